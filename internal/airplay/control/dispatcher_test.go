package control

import (
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ashwilson/go-airplay/internal/airplay/httpx"
	"github.com/ashwilson/go-airplay/internal/airplay/pairing"
	"github.com/ashwilson/go-airplay/internal/airplay/playback"
	"github.com/ashwilson/go-airplay/internal/airplay/renderer"
	"github.com/ashwilson/go-airplay/internal/logger"
)

func newTestConnection(t *testing.T) *httpx.Connection {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return httpx.NewConnection(server)
}

func newTestDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	id, err := pairing.LoadOrGenerate(filepath.Join(t.TempDir(), "identity.key"))
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	table := httpx.NewTable()
	registry := playback.NewRegistry()
	rend := &renderer.NoopRenderer{}
	log := logger.Logger().With("test", t.Name())
	return NewDispatcher(cfg, id, table, registry, rend, log)
}

// do routes req through the dispatcher's chi router exactly as
// ServeConnection would for a single request, returning the recorder so
// tests can inspect status, body, and the suppressed/closeAfter flags.
func (d *Dispatcher) do(t *testing.T, req *http.Request) *recorder {
	t.Helper()
	conn := newTestConnection(t)
	d.table.Add(conn)
	return d.doOnConn(t, conn, req)
}

// doOnConn routes req on a caller-supplied connection, so a test can drive a
// single socket through multiple sequential legs of a stateful exchange
// (pair-setup, pair-verify) the way a real sender would.
func (d *Dispatcher) doOnConn(t *testing.T, conn *httpx.Connection, req *http.Request) *recorder {
	t.Helper()
	req = withConn(req, conn)
	rec := newRecorder()
	d.router.ServeHTTP(rec, req)
	return rec
}

func TestServerInfoReportsConfiguredFields(t *testing.T) {
	d := newTestDispatcher(t, Config{DeviceID: "AA:BB:CC:DD:EE:FF", Model: "AppleTV5,3"})
	req := httptest.NewRequest(http.MethodGet, "/server-info", nil)

	rec := d.do(t, req)

	if rec.status != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.status)
	}
	if !bytes.Contains(rec.body.Bytes(), []byte("AA:BB:CC:DD:EE:FF")) {
		t.Fatalf("expected response to contain the configured device id, got %s", rec.body.String())
	}
	if !bytes.Contains(rec.body.Bytes(), []byte("AppleTV5,3")) {
		t.Fatalf("expected response to contain the configured model, got %s", rec.body.String())
	}
}

func TestFPSetupAcknowledgesEveryRound(t *testing.T) {
	d := newTestDispatcher(t, Config{})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/fp-setup", bytes.NewReader([]byte{byte(i)}))
		rec := d.do(t, req)
		if rec.status != http.StatusOK {
			t.Fatalf("round %d: expected 200, got %d", i, rec.status)
		}
	}
}

func TestFPSetup2AlwaysRejected(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	req := httptest.NewRequest(http.MethodPost, "/fp-setup2", nil)

	rec := d.do(t, req)

	if rec.status != http.StatusMisdirectedRequest {
		t.Fatalf("expected 421 Misdirected Request, got %d", rec.status)
	}
}

func TestPairPinStartRecordsCurrentPIN(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	req := httptest.NewRequest(http.MethodPost, "/pair-pin-start", nil)

	rec := d.do(t, req)

	if rec.status != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.status)
	}
	d.mu.Lock()
	pin := d.currentPIN
	d.mu.Unlock()
	if len(pin) != 4 {
		t.Fatalf("expected a 4-digit PIN to be recorded, got %q", pin)
	}
}

func TestPairSetupLegZeroReturnsSaltAndPublicValue(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	req := httptest.NewRequest(http.MethodPost, "/pair-setup", nil)
	req.Header.Set("X-Apple-Device-ID", "test-device")

	rec := d.do(t, req)

	if rec.status != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.status)
	}
	// 16-byte salt + 384-byte SRP public value B.
	if got := rec.body.Len(); got != 16+srpPublicKeySize {
		t.Fatalf("expected salt+B of length %d, got %d", 16+srpPublicKeySize, got)
	}
}

func TestPairSetupLegOneRejectsWrongBodyLength(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	conn := newTestConnection(t)
	d.table.Add(conn)

	first := httptest.NewRequest(http.MethodPost, "/pair-setup", nil)
	first.Header.Set("X-Apple-Device-ID", "test-device")
	d.doOnConn(t, conn, first)

	// Leg 1 expects exactly srpPublicKeySize+SessionKeySize bytes; send
	// garbage of the wrong length on the same connection and expect a 400
	// that resets the leg back to 0.
	second := httptest.NewRequest(http.MethodPost, "/pair-setup", bytes.NewReader([]byte("too short")))
	rec := d.doOnConn(t, conn, second)

	if rec.status != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed proof, got %d", rec.status)
	}

	ps := d.pairingStateFor(conn.ID())
	if ps.setupLeg != 0 {
		t.Fatalf("expected the failed leg to reset back to 0, got %d", ps.setupLeg)
	}
}

func TestPairVerifyRejectsWrongBodyLength(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	req := httptest.NewRequest(http.MethodPost, "/pair-verify", bytes.NewReader([]byte("nope")))

	rec := d.do(t, req)

	if rec.status != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed handshake body, got %d", rec.status)
	}
}

func TestReverseRejectsSecondConcurrentConnection(t *testing.T) {
	d := newTestDispatcher(t, Config{})

	first := httptest.NewRequest(http.MethodPost, "/reverse", nil)
	firstRec := d.do(t, first)
	if firstRec.status != http.StatusSwitchingProtocols {
		t.Fatalf("expected first /reverse to switch protocols, got %d", firstRec.status)
	}

	second := httptest.NewRequest(http.MethodPost, "/reverse", nil)
	secondRec := d.do(t, second)
	if secondRec.status != http.StatusBadRequest {
		t.Fatalf("expected second concurrent /reverse to be rejected with 400, got %d", secondRec.status)
	}
}

func TestPlayRejectsMissingSessionID(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	req := httptest.NewRequest(http.MethodPost, "/play", nil)
	req.Header.Set("Content-Type", "application/x-apple-binary-plist")

	rec := d.do(t, req)

	if rec.status != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing X-Apple-Session-ID, got %d", rec.status)
	}
	if !rec.closeAfter {
		t.Fatalf("expected a /play validation failure to mark the connection for teardown")
	}
}

func TestPlayRejectsWrongContentType(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	req := httptest.NewRequest(http.MethodPost, "/play", nil)
	req.Header.Set("X-Apple-Session-ID", "sess-1")
	req.Header.Set("Content-Type", "text/plain")

	rec := d.do(t, req)

	if rec.status != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-plist content type, got %d", rec.status)
	}
}

func TestActionRejectsWithNoActiveSession(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	req := httptest.NewRequest(http.MethodPost, "/action", nil)

	rec := d.do(t, req)

	if rec.status != http.StatusBadRequest {
		t.Fatalf("expected 400 with no active playback session, got %d", rec.status)
	}
}

func TestScrubUsesFirstValueAfterEquals(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	var scrubbed any
	d.renderer = &renderer.NoopRenderer{Log: func(event string, kv ...any) {
		if event == "renderer.scrub" && len(kv) == 2 {
			scrubbed = kv[1]
		}
	}}
	req := httptest.NewRequest(http.MethodPost, "/scrub?position=12.5", nil)

	rec := d.do(t, req)

	if rec.status != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.status)
	}
	if scrubbed != 12.5 {
		t.Fatalf("expected renderer scrub to position 12.5, got %v", scrubbed)
	}
}

func TestSetPropertyNoOpKeysReturnZeroErrorCode(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	req := httptest.NewRequest(http.MethodPut, "/setProperty?actionAtItemEnd", nil)

	rec := d.do(t, req)

	if rec.status != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.status)
	}
	if !bytes.Contains(rec.body.Bytes(), []byte("errorCode")) {
		t.Fatalf("expected an {errorCode: 0} plist body, got %s", rec.body.String())
	}
}

func TestSetPropertyUnrecognizedKeyIsANoOp(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	req := httptest.NewRequest(http.MethodPut, "/setProperty?somethingElse", nil)

	rec := d.do(t, req)

	if rec.status != http.StatusOK {
		t.Fatalf("expected 200 for an unrecognized property, got %d", rec.status)
	}
}

func TestPlaybackInfoHappyPath(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/playback-info", nil)

	rec := d.do(t, req)

	if rec.status != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.status)
	}
	if rec.suppressed || rec.closeAfter {
		t.Fatalf("expected a normal playback-info response to be neither suppressed nor closing")
	}
}

func TestPlaybackInfoFinishedSentinelClosesConnection(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	d.renderer = &fakeRenderer{info: renderer.Info{Duration: -1.0}}
	req := httptest.NewRequest(http.MethodGet, "/playback-info", nil)

	rec := d.do(t, req)

	if !rec.closeAfter {
		t.Fatalf("expected the finished sentinel to mark the connection for teardown")
	}
}

func TestPlaybackInfoRetrySentinelIsSuppressed(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	d.renderer = &fakeRenderer{info: renderer.Info{Duration: 30, Position: -1.0}}
	req := httptest.NewRequest(http.MethodGet, "/playback-info", nil)

	rec := d.do(t, req)

	if !rec.suppressed {
		t.Fatalf("expected the retry sentinel to suppress the response entirely")
	}
}

func TestHLSLoopbackReturns404WhenNoSessionIsActive(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/master.m3u8", nil)

	rec := d.do(t, req)

	if rec.status != http.StatusNotFound {
		t.Fatalf("expected 404 with no active session, got %d", rec.status)
	}
	if rec.header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS headers to still be set on a 404")
	}
}

func TestAuthenticatedRejectsWithoutCredentialsWhenPasswordSet(t *testing.T) {
	d := newTestDispatcher(t, Config{Password: "secret"})
	req := httptest.NewRequest(http.MethodPost, "/stop", nil)

	rec := d.do(t, req)

	if rec.status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.status)
	}
	if rec.header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected a WWW-Authenticate challenge header")
	}
}

func TestAuthenticatedPassesThroughWhenNoPasswordConfigured(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	req := httptest.NewRequest(http.MethodPost, "/stop", nil)

	rec := d.do(t, req)

	if rec.status != http.StatusOK {
		t.Fatalf("expected /stop to succeed with no password configured, got %d", rec.status)
	}
}

// fakeRenderer lets tests drive handlePlaybackInfo's sentinel branches
// without a real media backend.
type fakeRenderer struct {
	renderer.NoopRenderer
	info renderer.Info
}

func (f *fakeRenderer) AcquirePlaybackInfo() (renderer.Info, error) {
	return f.info, nil
}
