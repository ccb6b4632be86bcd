// Package wireplist defines the Apple property-list payloads exchanged on
// the AirPlay control connection and encodes/decodes them with
// howett.net/plist, the de-facto Go library for Apple's binary and XML
// plist formats.
package wireplist

import (
	"bytes"
	"fmt"

	"howett.net/plist"
)

// FeaturesMask is the AirPlay feature bitmask advertised by /server-info:
// bits 0-6 and 9 set (video, photo, FairPlay-video, volume control, HLS,
// slideshow, reserved bit 6, audio).
const FeaturesMask = 0x27F

// ServerInfo is the response body for GET /server-info.
type ServerInfo struct {
	Features       uint64 `plist:"features"`
	MacAddress     string `plist:"macAddress"`
	Model          string `plist:"model"`
	OSBuildVersion string `plist:"osBuildVersion"`
	ProtocolVers   string `plist:"protovers"`
	SourceVersion  string `plist:"srcvers"`
	VV             int    `plist:"vv"`
	DeviceID       string `plist:"deviceid"`
}

// PlayRequest is the parsed body of POST /play.
type PlayRequest struct {
	UUID                  string  `plist:"uuid"`
	ContentLocation       string  `plist:"Content-Location"`
	ClientProcName        string  `plist:"clientProcName"`
	StartPositionSeconds  float64 `plist:"Start-Position-Seconds"`
}

// FCUPHeader carries the two headers the original sender-side fetch
// protocol expects on every unhandledURLRequest.
type FCUPHeader struct {
	XPlaybackSessionID string `plist:"X-Playback-Session-ID"`
	UserAgent          string `plist:"User-Agent"`
}

// FCUPInnerRequest is the nested "request" dict of an FCUP event body.
type FCUPInnerRequest struct {
	ClientInfo int        `plist:"FCUP_Response_ClientInfo"`
	ClientRef  int64      `plist:"FCUP_Response_ClientRef"`
	RequestID  int64      `plist:"FCUP_Response_RequestID"`
	URL        string     `plist:"FCUP_Response_URL"`
	SessionID  string     `plist:"SessionID"`
	Header     FCUPHeader `plist:"FCUP_Response_Header"`
}

// Fixed literal fields the original sender-side fetch protocol expects
// verbatim on every request.
const (
	FCUPClientInfo = 1
	FCUPClientRef  = 40030004
	FCUPUserAgent  = "AppleCoreMedia/1.0.0.11B554a (Apple TV; U; CPU OS 7_0_4 like Mac OS X; en_us"
)

// FCUPRequest is the full POST /event body for an "unhandledURLRequest".
type FCUPRequest struct {
	SessionID int              `plist:"sessionID"`
	Type      string           `plist:"type"`
	Request   FCUPInnerRequest `plist:"request"`
}

// NewFCUPRequest builds an FCUP event body for fetching uri, matching the
// original send_fcup_request's fixed field values.
func NewFCUPRequest(appleSessionID string, requestID int64, uri string) FCUPRequest {
	return FCUPRequest{
		SessionID: 1,
		Type:      "unhandledURLRequest",
		Request: FCUPInnerRequest{
			ClientInfo: FCUPClientInfo,
			ClientRef:  FCUPClientRef,
			RequestID:  requestID,
			URL:        uri,
			SessionID:  appleSessionID,
			Header: FCUPHeader{
				XPlaybackSessionID: appleSessionID,
				UserAgent:          FCUPUserAgent,
			},
		},
	}
}

// ActionRequest is the parsed body of POST /action. Type discriminates
// between playlistRemove, playlistInsert, and unhandledURLResponse; only
// the fields relevant to the active Type are populated by the sender.
type ActionRequest struct {
	Type string `plist:"type"`

	// unhandledURLResponse
	Params FCUPResponseParams `plist:"params"`

	// playlistRemove
	Item PlaylistItem `plist:"item"`
}

// FCUPResponseParams is the body of an unhandledURLResponse action: the
// playlist text (or error) returned for a previously FCUP-requested URI.
type FCUPResponseParams struct {
	RequestID int64  `plist:"FCUP_Response_RequestID"`
	URL       string `plist:"FCUP_Response_URL"`
	SessionID string `plist:"SessionID"`
	Status    int    `plist:"FCUP_Response_Status"`
	Data      []byte `plist:"FCUP_Response_Data"`
}

// PlaylistItem identifies a playback session by uuid for playlistRemove.
type PlaylistItem struct {
	UUID string `plist:"uuid"`
}

// TimeRange is a {start, duration} pair used in both loadedTimeRanges and
// seekableTimeRanges.
type TimeRange struct {
	Start    float64 `plist:"start"`
	Duration float64 `plist:"duration"`
}

// PlaybackInfo is the response body for GET /playback-info.
type PlaybackInfo struct {
	Duration               float64     `plist:"duration"`
	Position               float64     `plist:"position"`
	Rate                   float32     `plist:"rate"`
	ReadyToPlay            bool        `plist:"readyToPlay"`
	PlaybackBufferEmpty    bool        `plist:"playbackBufferEmpty"`
	PlaybackBufferFull     bool        `plist:"playbackBufferFull"`
	PlaybackLikelyToKeepUp bool        `plist:"playbackLikelyToKeepUp"`
	LoadedTimeRanges       []TimeRange `plist:"loadedTimeRanges"`
	SeekableTimeRanges     []TimeRange `plist:"seekableTimeRanges"`
}

// FinishedSentinel and RetrySentinel are the magic duration/position values
// the original playback-info handler treats specially rather than as real
// clock values.
const (
	FinishedSentinel = -1.0
	RetrySentinel    = -1.0
)

// MediaSelectionOption is one entry of a selectedMediaArray setProperty
// body, carrying the display name and BCP-47-ish language identifier the
// sender offers for MediaSelectionOptionsArray.
type MediaSelectionOption struct {
	Name               string `plist:"MediaSelectionOptionsName"`
	LanguageIdentifier string `plist:"MediaSelectionOptionsUnicodeLanguageIdentifier"`
}

// SelectedMediaArrayBody is the PUT /setProperty?selectedMediaArray body.
type SelectedMediaArrayBody struct {
	Array []MediaSelectionOption `plist:"array"`
}

// ErrorResponse is the {errorCode: n} body returned for recognized but
// no-op setProperty keys (actionAtItemEnd, forwardEndTime, reverseEndTime).
type ErrorResponse struct {
	ErrorCode int `plist:"errorCode"`
}

// DecodeXML parses an XML or binary property list body into v. The
// decoder auto-detects the format, matching senders that use either.
func DecodeXML(body []byte, v any) error {
	decoder := plist.NewDecoder(bytes.NewReader(body))
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("wireplist: decode: %w", err)
	}
	return nil
}

// EncodeXML serializes v as an XML property list, the format AirPlay
// senders and this receiver exchange on the control connection.
func EncodeXML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := plist.NewEncoder(&buf)
	enc.Indent("\t")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("wireplist: encode: %w", err)
	}
	return buf.Bytes(), nil
}
