package control

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
)

// recorder is a minimal http.ResponseWriter that buffers a response so it
// can be relayed onto an httpx.Connection afterwards, since this receiver
// owns its own per-socket read/write loop instead of using net/http's
// server. chi only needs an http.ResponseWriter to route into, not a real
// listener.
type recorder struct {
	header http.Header

	status int
	body   bytes.Buffer

	// suppressed marks a request the original protocol answers with
	// literally no bytes at all (the /playback-info retry sentinel,
	// a declined HLS upgrade); ServeConnection skips WriteResponse
	// entirely rather than sending an empty 200.
	suppressed bool

	// closeAfter marks a response that must be followed by closing the
	// connection once it's been flushed (a fatal pairing failure, the
	// /playback-info finished sentinel).
	closeAfter bool
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header), status: http.StatusOK}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) Write(b []byte) (int, error) { return r.body.Write(b) }

func (r *recorder) WriteHeader(status int) { r.status = status }

// Suppress marks this response as one that must never reach the socket.
func (r *recorder) Suppress() { r.suppressed = true }

// CloseAfter marks this response as the last one on its connection.
func (r *recorder) CloseAfter() { r.closeAfter = true }

// toResponse builds the http.Response WriteResponse expects for req.
func (r *recorder) toResponse(req *http.Request) *http.Response {
	if r.header.Get("Content-Length") == "" {
		r.header.Set("Content-Length", strconv.Itoa(r.body.Len()))
	}
	body := r.body.Bytes()
	return &http.Response{
		StatusCode:    r.status,
		Status:        http.StatusText(r.status),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.header,
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(bytes.NewReader(body)),
		Request:       req,
	}
}
