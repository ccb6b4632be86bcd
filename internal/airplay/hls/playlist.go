package hls

import "strings"

// variant is one #EXT-X-STREAM-INF entry: the attribute line followed by its
// URI line.
type variant struct {
	uri string
}

// mediaRendition is one #EXT-X-MEDIA entry, e.g. an alternate audio track.
type mediaRendition struct {
	typ      string // AUDIO, VIDEO, SUBTITLES
	groupID  string
	name     string
	language string
	isDefault bool
	uri      string
	rawLine  string
}

// parsedMaster is the result of scanning a master playlist for the URIs the
// store still needs to fetch and the audio renditions available for
// language selection.
type parsedMaster struct {
	variants []variant
	media    []mediaRendition
}

func getAttr(line, key string) string {
	idx := strings.Index(line, key+"=")
	if idx < 0 {
		return ""
	}
	rest := line[idx+len(key)+1:]
	if strings.HasPrefix(rest, `"`) {
		rest = rest[1:]
		end := strings.IndexByte(rest, '"')
		if end < 0 {
			return rest
		}
		return rest[:end]
	}
	end := strings.IndexAny(rest, ",\n")
	if end < 0 {
		return rest
	}
	return rest[:end]
}

// parseMaster scans an M3U8 master playlist for #EXT-X-STREAM-INF variant
// URIs and #EXT-X-MEDIA renditions, ignoring every other tag. The original
// hands this job to a bundled hlsparse; this scans line-by-line since the
// receiver only ever needs the URI list and the AUDIO renditions' language
// attributes, not a full semantic model of the playlist.
func parseMaster(data string) parsedMaster {
	var out parsedMaster
	lines := strings.Split(data, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			if i+1 < len(lines) {
				uri := strings.TrimSpace(strings.TrimRight(lines[i+1], "\r"))
				if uri != "" && !strings.HasPrefix(uri, "#") {
					out.variants = append(out.variants, variant{uri: uri})
					i++
				}
			}
		case strings.HasPrefix(line, "#EXT-X-MEDIA:"):
			m := mediaRendition{
				typ:      getAttr(line, "TYPE"),
				groupID:  getAttr(line, "GROUP-ID"),
				name:     getAttr(line, "NAME"),
				language: getAttr(line, "LANGUAGE"),
				uri:      getAttr(line, "URI"),
				rawLine:  line,
			}
			m.isDefault = strings.Contains(line, "DEFAULT=YES")
			out.media = append(out.media, m)
		}
	}
	return out
}

// uniqueURIs returns every distinct variant and audio-rendition URI found in
// a parsed master, in first-seen order, ready to be queued for FCUP fetch.
func (p parsedMaster) uniqueURIs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range p.variants {
		if v.uri != "" && !seen[v.uri] {
			seen[v.uri] = true
			out = append(out, v.uri)
		}
	}
	for _, m := range p.media {
		if m.uri != "" && !seen[m.uri] {
			seen[m.uri] = true
			out = append(out, m.uri)
		}
	}
	return out
}

// selectLanguage rewrites every #EXT-X-MEDIA:TYPE=AUDIO line's DEFAULT
// attribute so that the rendition matching code is DEFAULT=YES,
// AUTOSELECT=YES and every other audio rendition is DEFAULT=NO. A blank
// code, or a code matching none of the renditions, leaves the master
// untouched (sender's defaults stand).
func selectLanguage(data, code string) string {
	if code == "" {
		return data
	}
	parsed := parseMaster(data)
	matched := false
	for _, m := range parsed.media {
		if m.typ == "AUDIO" && m.language == code {
			matched = true
			break
		}
	}
	if !matched {
		return data
	}

	lines := strings.Split(data, "\n")
	for i, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if !strings.HasPrefix(trimmed, "#EXT-X-MEDIA:") || getAttr(trimmed, "TYPE") != "AUDIO" {
			continue
		}
		if getAttr(trimmed, "LANGUAGE") == code {
			lines[i] = setDefaultAttr(setAutoselectAttr(trimmed), "YES")
		} else {
			lines[i] = setDefaultAttr(trimmed, "NO")
		}
	}
	return strings.Join(lines, "\n")
}

func setDefaultAttr(line, value string) string {
	return setAttr(line, "DEFAULT=", value)
}

func setAutoselectAttr(line string) string {
	return setAttr(line, "AUTOSELECT=", "YES")
}

func setAttr(line, key, value string) string {
	idx := strings.Index(line, key)
	if idx < 0 {
		return line + "," + key + value
	}
	rest := line[idx+len(key):]
	end := strings.IndexByte(rest, ',')
	if end < 0 {
		return line[:idx] + key + value
	}
	return line[:idx] + key + value + rest[end:]
}
