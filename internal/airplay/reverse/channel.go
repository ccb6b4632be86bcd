// Package reverse implements the server-initiated half of the reverse-HTTP
// (PTTH) channel: after a control connection accepts POST /reverse, the
// server may push POST /event bodies down that same socket, with replies
// arriving asynchronously as new inbound POST /action requests on the
// control connection.
package reverse

import (
	"bytes"
	"net/http"

	"howett.net/plist"

	"github.com/ashwilson/go-airplay/internal/airplay/httpx"
	"github.com/ashwilson/go-airplay/internal/airplay/wireplist"
	"github.com/ashwilson/go-airplay/internal/errors"
)

// Channel emits FCUP event bodies on a PTTH connection.
type Channel struct {
	conn *httpx.Connection
}

// NewChannel binds a reverse channel to an already-upgraded connection.
func NewChannel(conn *httpx.Connection) *Channel {
	return &Channel{conn: conn}
}

// SendFCUPRequest emits a POST /event carrying an unhandledURLRequest FCUP
// body for uri as a binary property list, matching the original
// send_fcup_request's field shapes.
func (c *Channel) SendFCUPRequest(appleSessionID string, requestID int64, uri string) error {
	body := wireplist.NewFCUPRequest(appleSessionID, requestID, uri)
	encoded, err := plist.Marshal(body, plist.BinaryFormat)
	if err != nil {
		return errors.NewProtocolError("reverse.sendFCUPRequest", err)
	}

	req, err := http.NewRequest(http.MethodPost, "/event", bytes.NewReader(encoded))
	if err != nil {
		return errors.NewProtocolError("reverse.sendFCUPRequest", err)
	}
	req.Host = "localhost"
	req.Header.Set("X-Apple-Session-ID", appleSessionID)
	req.Header.Set("Content-Type", "application/x-apple-binary-plist")
	req.ContentLength = int64(len(encoded))

	return c.conn.SendReverse(req)
}

// ValidateSessionMatch checks that an inbound /action request's
// X-Apple-Session-ID matches the session the FCUP request was issued for.
func ValidateSessionMatch(expectedSessionID, gotSessionID string) error {
	if expectedSessionID != gotSessionID {
		return errors.NewProtocolError("reverse.validateSessionMatch", nil)
	}
	return nil
}
