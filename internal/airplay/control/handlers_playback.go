package control

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashwilson/go-airplay/internal/airplay/hls"
	"github.com/ashwilson/go-airplay/internal/airplay/playback"
	"github.com/ashwilson/go-airplay/internal/airplay/wireplist"
	"github.com/ashwilson/go-airplay/internal/errors"
)

// supportedHLSProcNames mirrors the original's semicolon-delimited allow
// list; an unrecognized clientProcName is only ever logged, never rejected.
const supportedHLSProcNames = "YouTube;"

func (d *Dispatcher) storeForSession(sess *playback.Session) *hls.Store {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hlsByUUID[sess.PlaybackUUID]
}

// playError marks the connection for teardown and hard-resets the
// renderer, matching the original's conn_reset(cls, 2) on any /play
// validation failure, then returns the 400 wrap() will send.
func (d *Dispatcher) playError(w http.ResponseWriter, cause error) error {
	if rec, ok := w.(*recorder); ok {
		rec.CloseAfter()
	}
	if err := d.renderer.Reset(true); err != nil {
		d.log.Error("renderer reset after /play failure also failed", "err", err.Error())
	}
	return errors.NewProtocolError("control.play", cause)
}

func (d *Dispatcher) handlePlay(w http.ResponseWriter, r *http.Request) error {
	conn := connFromContext(r)

	appleSessionID := r.Header.Get("X-Apple-Session-ID")
	if appleSessionID == "" {
		return d.playError(w, fmt.Errorf("missing X-Apple-Session-ID"))
	}
	if !strings.Contains(r.Header.Get("Content-Type"), "apple-binary-plist") {
		return d.playError(w, fmt.Errorf("expected apple-binary-plist body"))
	}

	var play wireplist.PlayRequest
	if err := readBody(r, func(b []byte) error { return wireplist.DecodeXML(b, &play) }); err != nil {
		return d.playError(w, err)
	}
	if play.UUID == "" {
		return d.playError(w, fmt.Errorf("missing uuid"))
	}

	sess := d.registry.AllocateFor(appleSessionID, play.UUID, d.localHost())
	sess.AppleSessionID = appleSessionID

	if store, ok := d.hlsByUUID[play.UUID]; ok && store.Ready() {
		conn.Log().Info("reusing already-downloaded playlist", "uuid", play.UUID)
		return d.renderer.Play(store.LocalMasterURL(), sess.StartPositionSeconds)
	}

	contentLocation := play.ContentLocation
	if contentLocation == "" {
		return d.playError(w, fmt.Errorf("missing Content-Location"))
	}

	clientProcName := play.ClientProcName
	if clientProcName == "" {
		return d.playError(w, fmt.Errorf("missing clientProcName"))
	}
	if !strings.Contains(supportedHLSProcNames, clientProcName) {
		conn.Log().Warn("unrecognized clientProcName", "clientProcName", clientProcName)
	}

	// An absent Start-Position-Seconds key decodes as 0.
	startPosition := play.StartPositionSeconds

	masterIdx := strings.Index(contentLocation, "/master.m3u8")
	if masterIdx < 0 {
		return d.playError(w, fmt.Errorf("Content-Location missing /master.m3u8"))
	}

	sess.URIPrefix = contentLocation[:masterIdx]
	sess.StartPositionSeconds = startPosition

	store := hls.NewStore(sess, d.reverseChannel, d.localHost(), conn.Log())
	d.mu.Lock()
	d.hlsByUUID[play.UUID] = store
	d.mu.Unlock()

	if err := store.BeginFetch(contentLocation); err != nil {
		return d.playError(w, err)
	}
	return nil
}

func (d *Dispatcher) handleAction(w http.ResponseWriter, r *http.Request) error {
	conn := connFromContext(r)

	sess, ok := d.registry.Current()
	if !ok {
		return errors.NewProtocolError("control.action", fmt.Errorf("no active playback session"))
	}
	if r.Header.Get("X-Apple-Session-ID") != sess.AppleSessionID {
		return errors.NewProtocolError("control.action", fmt.Errorf("session id mismatch"))
	}
	if !strings.Contains(r.Header.Get("Content-Type"), "apple-binary-plist") {
		return errors.NewProtocolError("control.action", fmt.Errorf("expected apple-binary-plist body"))
	}

	var action wireplist.ActionRequest
	if err := readBody(r, func(b []byte) error {
		if err := wireplist.DecodeXML(b, &action); err != nil {
			return errors.NewProtocolError("control.action", err)
		}
		return nil
	}); err != nil {
		return err
	}
	if action.Type == "" {
		return errors.NewProtocolError("control.action", fmt.Errorf("missing type"))
	}

	switch action.Type {
	case "playlistRemove":
		if action.Item.UUID != "" && action.Item.UUID != sess.PlaybackUUID {
			conn.Log().Error("playlistRemove for unknown playback uuid, ignoring", "uuid", action.Item.UUID)
		} else {
			conn.Log().Debug("playlistRemove acknowledged", "uuid", action.Item.UUID)
		}
		return nil

	case "playlistInsert":
		// The original dumps the plist and exits the process here; this
		// receiver logs it and answers with an Unsupported error status,
		// keeping the connection open.
		conn.Log().Warn("playlistInsert is unsupported, ignoring")
		return errors.NewUnsupportedError("control.action.playlistInsert", nil)

	case "unhandledURLResponse":
		if action.Params.URL == "" {
			return errors.NewProtocolError("control.action.unhandledURLResponse", fmt.Errorf("missing FCUP_Response_URL"))
		}
		if len(action.Params.Data) == 0 {
			return errors.NewProtocolError("control.action.unhandledURLResponse", fmt.Errorf("missing FCUP_Response_Data"))
		}
		store := d.storeForSession(sess)
		if store == nil {
			return errors.NewProtocolError("control.action.unhandledURLResponse", fmt.Errorf("no HLS store for session"))
		}
		if err := store.HandleFCUPReply(action.Params.RequestID, string(action.Params.Data)); err != nil {
			return err
		}
		if store.Ready() {
			return d.renderer.Play(store.LocalMasterURL(), sess.StartPositionSeconds)
		}
		return nil

	default:
		conn.Log().Info("unhandled action type", "type", action.Type)
		return nil
	}
}

// firstValueAfterEquals replicates the original's naive query parsing for
// /scrub and /rate: it takes the substring after the query string's first
// "=", regardless of which key precedes it.
func firstValueAfterEquals(rawQuery string) string {
	idx := strings.IndexByte(rawQuery, '=')
	if idx < 0 {
		return ""
	}
	return rawQuery[idx+1:]
}

// parseLeadingFloat mimics strtod/strtof: it parses as much of a leading
// numeric prefix as it can and falls back to 0.0 rather than erroring.
func parseLeadingFloat(s string) float64 {
	end := 0
	seenDigit := false
	for end < len(s) {
		c := s[end]
		switch {
		case c >= '0' && c <= '9':
			seenDigit = true
		case (c == '+' || c == '-') && end == 0:
		case c == '.':
		default:
			goto done
		}
		end++
	}
done:
	if !seenDigit {
		return 0.0
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0.0
	}
	return v
}

func (d *Dispatcher) handleScrub(w http.ResponseWriter, r *http.Request) error {
	position := parseLeadingFloat(firstValueAfterEquals(r.URL.RawQuery))
	return d.renderer.Scrub(position)
}

func (d *Dispatcher) handleRate(w http.ResponseWriter, r *http.Request) error {
	value := parseLeadingFloat(firstValueAfterEquals(r.URL.RawQuery))
	return d.renderer.Rate(float32(value))
}

func (d *Dispatcher) handleStop(w http.ResponseWriter, r *http.Request) error {
	connFromContext(r).Log().Info("stop requested")
	return d.renderer.Stop()
}

// handleSetProperty dispatches on the raw query string as a single opaque
// property name/value, matching the original's substring-after-"?" parsing
// rather than structured query-param decoding.
func (d *Dispatcher) handleSetProperty(w http.ResponseWriter, r *http.Request) error {
	property := r.URL.RawQuery

	switch property {
	case "selectedMediaArray":
		return d.setPropertySelectedMediaArray(w, r)

	case "actionAtItemEnd", "forwardEndTime", "reverseEndTime":
		resp := wireplist.ErrorResponse{ErrorCode: 0}
		body, err := wireplist.EncodeXML(resp)
		if err != nil {
			return errors.NewFatalError("control.setProperty", err)
		}
		w.Header().Set("Content-Type", "text/x-apple-plist+xml")
		_, werr := w.Write(body)
		return werr

	default:
		connFromContext(r).Log().Debug("unhandled setProperty", "property", property)
		return nil
	}
}

// setPropertySelectedMediaArray records the sender's preferred audio
// language. A missing/incorrect Content-Type falls to the original's
// "post_error" label, which is a plain empty 200, not an error status.
func (d *Dispatcher) setPropertySelectedMediaArray(w http.ResponseWriter, r *http.Request) error {
	if !strings.Contains(r.Header.Get("Content-Type"), "apple-binary-plist") {
		return nil
	}
	var arr wireplist.SelectedMediaArrayBody
	_ = readBody(r, func(b []byte) error { return wireplist.DecodeXML(b, &arr) })

	var name, code string
	for _, opt := range arr.Array {
		if name == "" && opt.Name != "" {
			name = opt.Name
		}
		if code == "" && opt.LanguageIdentifier != "" {
			code = opt.LanguageIdentifier
		}
		if name != "" && code != "" {
			break
		}
	}
	connFromContext(r).Log().Info("selectedMediaArray", "name", name, "code", code)

	if sess, ok := d.registry.Current(); ok {
		if store := d.storeForSession(sess); store != nil {
			store.SetLanguage(code)
		}
	}
	return nil
}

func (d *Dispatcher) handleGetProperty(w http.ResponseWriter, r *http.Request) error {
	connFromContext(r).Log().Debug("getProperty", "property", r.URL.RawQuery)
	return nil
}

// handlePlaybackInfo answers GET /playback-info. Two renderer-reported
// values are sentinels rather than real clock positions: a finished
// duration tears the connection down after a hard reset, and a retry
// position sends back literally nothing so the sender polls again.
func (d *Dispatcher) handlePlaybackInfo(w http.ResponseWriter, r *http.Request) error {
	conn := connFromContext(r)
	info, err := d.renderer.AcquirePlaybackInfo()
	if err != nil {
		return errors.NewFatalError("control.playbackInfo", err)
	}
	rec, _ := w.(*recorder)

	if info.Duration == wireplist.FinishedSentinel {
		if err := d.renderer.Reset(true); err != nil {
			conn.Log().Error("hard reset after finished playback failed", "err", err.Error())
		}
		w.Header().Set("Connection", "close")
		if rec != nil {
			rec.CloseAfter()
		}
		return nil
	}
	if info.Position == wireplist.RetrySentinel {
		if rec != nil {
			rec.Suppress()
		}
		return nil
	}

	body := wireplist.PlaybackInfo{
		Duration:               info.Duration,
		Position:               info.Position,
		Rate:                   info.Rate,
		ReadyToPlay:            info.ReadyToPlay,
		PlaybackBufferEmpty:    info.PlaybackBufferEmpty,
		PlaybackBufferFull:     info.PlaybackBufferFull,
		PlaybackLikelyToKeepUp: info.PlaybackLikelyToKeepUp,
		LoadedTimeRanges: []wireplist.TimeRange{
			{Start: info.Position, Duration: info.Duration - info.Position},
		},
		SeekableTimeRanges: []wireplist.TimeRange{
			{Start: 0, Duration: info.Position},
		},
	}
	encoded, err := wireplist.EncodeXML(body)
	if err != nil {
		return errors.NewFatalError("control.playbackInfo", err)
	}
	w.Header().Set("Content-Type", "text/x-apple-plist+xml")
	_, werr := w.Write(encoded)
	return werr
}
