// Package hls implements the content-addressed playlist store and the
// FCUP-driven playlist fetch that lets a local HLS-capable player consume an
// Apple-proprietary mlhls://, nfhls:// playlist tree as plain HTTP, grounded
// on the original receiver's MediaDataStore.
package hls

import (
	"regexp"
	"strings"
)

const (
	mlhlsScheme = "mlhls://"
	nfhlsScheme = "nfhls://"
)

// appID identifies which sender-origin scheme a URI was rewritten from. The
// original keeps this as a switch over an enum on the store itself (one
// active app per session); a fresh playback session only ever sees one
// scheme family, so the store tracks it the same way.
type appID int

const (
	appUnknown appID = iota
	appYouTube
	appNetflix
)

func detectAppID(uri string) appID {
	switch {
	case strings.HasPrefix(uri, mlhlsScheme):
		return appYouTube
	case strings.HasPrefix(uri, nfhlsScheme):
		return appNetflix
	default:
		return appUnknown
	}
}

// rewriteURI converts a sender-scheme URI to a local http:// URI reachable
// through the loopback HLS server, per the original's extract_uri_path. The
// youtube case intentionally falls through into the netflix case after
// stripping its own scheme, so both end up sharing the same host-stripping
// and leading-slash fixup: the sender host is dropped and only the path is
// kept, so "mlhls://host/p" becomes "http://<localHost>/p".
func rewriteURI(uri, localHost string) string {
	id := detectAppID(uri)
	s := uri
	switch id {
	case appYouTube:
		s = strings.TrimPrefix(s, mlhlsScheme)
		fallthrough
	case appNetflix:
		s = strings.TrimPrefix(s, nfhlsScheme)
		if slash := strings.IndexByte(s, '/'); slash >= 0 {
			s = s[slash:]
		} else {
			s = "/"
		}
	default:
		return uri
	}
	return "http://" + localHost + s
}

// stripSchemeForFetch removes the sender scheme so the bare host/path can be
// handed to the FCUP request as the original URL the sender expects back
// (the sender, not the local player, resolves it).
func stripSchemeForFetch(uri string) string {
	switch detectAppID(uri) {
	case appYouTube:
		return strings.TrimPrefix(uri, mlhlsScheme)
	case appNetflix:
		return strings.TrimPrefix(uri, nfhlsScheme)
	default:
		return uri
	}
}

var condensedURLPattern = regexp.MustCompile(`#YT-EXT-CONDENSED-URL:BASE-URI="([^"]*)",PARAMS=[^\n]*PREFIX="([^"]*)"`)

// expandCondensedURLs implements adjust_secondary_media_data: a condensed
// media playlist names a BASE-URI and a PREFIX once, then every following
// line beginning with that prefix is actually base/prefix-that-line.
func expandCondensedURLs(data string) string {
	m := condensedURLPattern.FindStringSubmatch(data)
	if m == nil {
		return data
	}
	base, prefix := m[1], m[2]
	if base == "" || prefix == "" {
		return data
	}
	return strings.ReplaceAll(data, "\n"+prefix, "\n"+base+"/"+prefix)
}

// rewriteMaster rewrites every sender-scheme URI line in a master playlist
// to a local http:// URI, per adjust_mlhls_data / adjust_nfhls_data. Unlike
// expandCondensedURLs this operates line-by-line rather than via a single
// regex, since variant URIs appear on their own unadorned lines; the quoted
// URI attribute of each #EXT-X-MEDIA rendition line is rewritten in place.
func rewriteMaster(data, localHost string) string {
	lines := strings.Split(data, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, mlhlsScheme) || strings.HasPrefix(trimmed, nfhlsScheme) {
			lines[i] = rewriteURI(trimmed, localHost)
		} else if strings.HasPrefix(trimmed, "#EXT-X-MEDIA:") {
			if uri := getAttr(trimmed, "URI"); detectAppID(uri) != appUnknown {
				lines[i] = strings.Replace(line, `"`+uri+`"`, `"`+rewriteURI(uri, localHost)+`"`, 1)
			}
		}
	}
	return strings.Join(lines, "\n")
}

// isPrimaryURI reports whether uri names a master/primary playlist rather
// than a media (chunk index) playlist, mirroring is_primary_data_uri.
func isPrimaryURI(uri string) bool {
	return strings.Contains(uri, "master.m3u8") || strings.Contains(uri, "index.m3u8")
}
