package control

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/ashwilson/go-airplay/internal/airplay/pairing"
)

// authenticated gates h behind RFC 2617 HTTP Digest, using the same
// single-shared-password scheme pairing.VerifyDigest implements. An empty
// Config.Password disables the gate entirely, matching the original's
// open-access mode when no setup password is configured.
func (d *Dispatcher) authenticated(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.cfg.Password == "" {
			h(w, r)
			return
		}

		if pairing.VerifyDigest(r.Method, r.Header.Get("Authorization"), d.cfg.Password) {
			h(w, r)
			return
		}

		nonce, err := newNonce()
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		challenge := fmt.Sprintf(`Digest realm=%q, qop="auth", nonce=%q`, d.cfg.Realm, nonce)
		w.Header().Set("WWW-Authenticate", challenge)
		w.WriteHeader(http.StatusUnauthorized)
	}
}

func newNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
