package control

import (
	"io"
	"net/http"
)

// handleHLSLoopback serves the rewritten master and media playlists to the
// local player over the receiver's loopback HTTP surface. It
// matches every GET not claimed by an explicit route above it.
func (d *Dispatcher) handleHLSLoopback(w http.ResponseWriter, r *http.Request) error {
	if r.Header.Get("Upgrade") != "" {
		connFromContext(r).Log().Debug("declining HLS loopback upgrade request", "path", r.URL.Path)
		if rec, ok := w.(*recorder); ok {
			rec.Suppress()
		}
		return nil
	}

	w.Header().Set("Access-Control-Allow-Headers", "Content-type")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Date", gmtDate())

	var text string
	var found bool
	if sess, ok := d.registry.Current(); ok {
		if store := d.storeForSession(sess); store != nil {
			text, found = store.Serve(r.URL.Path)
		}
	}

	if !found {
		w.WriteHeader(http.StatusNotFound)
		return nil
	}

	w.Header().Set("Content-Type", "application/x-mpegURL; charset=utf-8")
	_, err := io.WriteString(w, text)
	return err
}
