package pairing

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// VerifyDigest implements RFC 2617 HTTP Digest authentication (MD5
// algorithm), supporting both qop=auth and the legacy (no-qop) form. It
// mirrors the original receiver's token scanning: quoted fields use a
// `"`..`"` delimiter pair, while qop/nc (which are sent unquoted) use
// `=`..`,`.
func VerifyDigest(method, authorization, password string) bool {
	cursor := authorization

	username, ok := getToken(&cursor, "username", '"', '"')
	if !ok {
		return false
	}
	realm, ok := getToken(&cursor, "realm", '"', '"')
	if !ok {
		return false
	}
	nonce, ok := getToken(&cursor, "nonce", '"', '"')
	if !ok {
		return false
	}
	uri, ok := getToken(&cursor, "uri", '"', '"')
	if !ok {
		return false
	}

	var nc, cnonce, qop string
	if q, qok := getToken(&cursor, "qop", '=', ','); qok {
		qop = q
		nc, _ = getToken(&cursor, "nc", '=', ',')
		cnonce, _ = getToken(&cursor, "cnonce", '"', '"')
	}

	response, ok := getToken(&cursor, "response", '"', '"')
	if !ok {
		return false
	}

	ha1 := md5Hex(strings.Join([]string{username, realm, password}, ":"))
	ha2 := md5Hex(strings.Join([]string{method, uri}, ":"))

	var parts []string
	if qop != "" {
		parts = []string{ha1, nonce, nc, cnonce, qop, ha2}
	} else {
		parts = []string{ha1, nonce, ha2}
	}
	expected := md5Hex(strings.Join(parts, ":"))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(response)) == 1
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// getToken extracts the value following tokenName in s, delimited by
// startChar/endChar (e.g. `"`,`"` for quoted fields or `=`,`,` for the
// unquoted qop/nc fields), and advances the search cursor past it.
func getToken(cursor *string, tokenName string, startChar, endChar byte) (string, bool) {
	s := *cursor
	idx := strings.Index(s, tokenName)
	if idx < 0 {
		return "", false
	}
	rest := s[idx+len(tokenName):]

	startIdx := strings.IndexByte(rest, startChar)
	if startIdx < 0 {
		return "", false
	}
	rest = rest[startIdx+1:]

	endIdx := strings.IndexByte(rest, endChar)
	if endIdx < 0 {
		// Legacy unquoted trailing field (e.g. final response with no
		// trailing comma) — take the remainder.
		*cursor = ""
		return rest, true
	}

	token := rest[:endIdx]
	*cursor = rest[endIdx+1:]
	return token, true
}
