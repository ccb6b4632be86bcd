package control

import (
	"io"
	"net/http"

	"github.com/ashwilson/go-airplay/internal/bufpool"
	"github.com/ashwilson/go-airplay/internal/errors"
)

// readBody drains r.Body into a pooled buffer sized to the request's
// declared Content-Length and hands it to fn before returning the buffer to
// the pool, so the control connection's per-request plist/SRP bodies don't
// each force a fresh heap allocation. Requests with no declared length
// (chunked transfer, which AirPlay senders never use on this connection)
// fall back to a plain io.ReadAll. fn's byte slice must not be retained
// past its return.
func readBody(r *http.Request, fn func([]byte) error) error {
	if r.ContentLength > 0 {
		buf := bufpool.Get(int(r.ContentLength))
		defer bufpool.Put(buf)
		if _, err := io.ReadFull(r.Body, buf); err != nil {
			return errors.NewTransportError("control.readBody", err)
		}
		return fn(buf)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return errors.NewTransportError("control.readBody", err)
	}
	return fn(body)
}
