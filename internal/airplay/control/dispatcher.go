// Package control implements the AirPlay control connection's request
// dispatcher: the HTTP route table described in the original receiver's
// raop.c handler registration, rebuilt over github.com/go-chi/chi/v5
// instead of a hand-rolled method+prefix switch.
package control

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashwilson/go-airplay/internal/airplay/hls"
	"github.com/ashwilson/go-airplay/internal/airplay/httpx"
	"github.com/ashwilson/go-airplay/internal/airplay/pairing"
	"github.com/ashwilson/go-airplay/internal/airplay/playback"
	"github.com/ashwilson/go-airplay/internal/airplay/renderer"
	"github.com/ashwilson/go-airplay/internal/airplay/reverse"
	"github.com/ashwilson/go-airplay/internal/errors"
	"github.com/ashwilson/go-airplay/internal/logger"
)

// defaultPairingPIN is used only if a pair-setup leg 1 arrives before any
// /pair-pin-start has run (e.g. a sender that skips straight to pre-shared
// credentials).
const defaultPairingPIN = "0000"

// Config carries the facts the dispatcher needs to answer /server-info and
// to rewrite HLS URIs onto the receiver's own loopback port.
type Config struct {
	DeviceID      string
	Model         string
	SourceVersion string
	HTTPPort      int

	// Password, if non-empty, turns on HTTP-Digest authentication for
	// every route except the protocol bootstrap (server-info, pairing,
	// fp-setup, reverse) and the HLS loopback GETs.
	Password string
	Realm    string
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "AppleTV3,2"
	}
	if c.SourceVersion == "" {
		c.SourceVersion = "220.68"
	}
	if c.Realm == "" {
		c.Realm = "AirPlay"
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = 7000
	}
}

// pairingState is the per-connection pairing progress: the FSM session
// plus the pair-setup leg counter, since ConfirmPairSetup doesn't itself
// advance Session.Status (see pairing/session.go).
type pairingState struct {
	session  *pairing.Session
	setupLeg int
}

// Dispatcher is the single place that routes inbound control-connection
// requests to handlers and turns handler errors into HTTP responses.
type Dispatcher struct {
	cfg      Config
	identity *pairing.Identity
	router   *chi.Mux
	table    *httpx.Table
	registry *playback.Registry
	renderer renderer.Renderer
	log      *logger.Logger

	mu             sync.Mutex
	pairingByConn  map[string]*pairingState
	hlsByUUID      map[string]*hls.Store
	reverseChannel *reverse.Channel
	currentPIN     string
	languageCode   string
}

// NewDispatcher builds a dispatcher and registers its full route table.
func NewDispatcher(cfg Config, identity *pairing.Identity, table *httpx.Table, registry *playback.Registry, rend renderer.Renderer, log *logger.Logger) *Dispatcher {
	cfg.applyDefaults()
	d := &Dispatcher{
		cfg:           cfg,
		identity:      identity,
		table:         table,
		registry:      registry,
		renderer:      rend,
		log:           log,
		pairingByConn: make(map[string]*pairingState),
		hlsByUUID:     make(map[string]*hls.Store),
	}
	d.router = chi.NewRouter()
	d.registerRoutes()
	return d
}

func (d *Dispatcher) localHost() string {
	return fmt.Sprintf("localhost:%d", d.cfg.HTTPPort)
}

func (d *Dispatcher) registerRoutes() {
	r := d.router

	r.Get("/server-info", d.wrap(d.handleServerInfo))
	r.Post("/fp-setup", d.wrap(d.handleFPSetup))
	r.Post("/fp-setup2", d.wrap(d.handleFPSetup2))
	r.Post("/pair-pin-start", d.wrap(d.handlePairPinStart))
	r.Post("/pair-setup-pin", d.wrap(d.handlePairSetup))
	r.Post("/pair-setup", d.wrap(d.handlePairSetup))
	r.Post("/pair-verify", d.wrap(d.handlePairVerify))
	r.Post("/reverse", d.wrap(d.handleReverse))

	r.Post("/play", d.authenticated(d.wrap(d.handlePlay)))
	r.Post("/action", d.authenticated(d.wrap(d.handleAction)))
	r.Post("/scrub", d.authenticated(d.wrap(d.handleScrub)))
	r.Post("/rate", d.authenticated(d.wrap(d.handleRate)))
	r.Post("/stop", d.authenticated(d.wrap(d.handleStop)))
	r.Put("/setProperty", d.authenticated(d.wrap(d.handleSetProperty)))
	r.Get("/getProperty", d.authenticated(d.wrap(d.handleGetProperty)))
	r.Get("/playback-info", d.authenticated(d.wrap(d.handlePlaybackInfo)))

	// Everything unmatched above is an HLS loopback GET for a playlist
	// path (/master.m3u8 or a media-rendition path taken verbatim from
	// the rewritten master); chi tries every explicit route first.
	r.Get("/*", d.wrap(d.handleHLSLoopback))
}

type connCtxKey struct{}

func withConn(r *http.Request, conn *httpx.Connection) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), connCtxKey{}, conn))
}

func connFromContext(r *http.Request) *httpx.Connection {
	conn, _ := r.Context().Value(connCtxKey{}).(*httpx.Connection)
	return conn
}

// wrap adapts a (ResponseWriter, *Request) error-returning handler into an
// http.HandlerFunc, translating any returned error into an HTTP status via
// the shared errors taxonomy and marking the connection for teardown when
// the error is a fatal pairing failure.
func (d *Dispatcher) wrap(h func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		status := errors.StatusCode(err)
		conn := connFromContext(r)
		rl := logger.WithRoute(conn.Log(), r.Method, r.URL.Path)
		rl.Error("request failed", "err", err.Error(), "status", status)
		w.WriteHeader(status)
		if pairing.Fatal(err) {
			d.mu.Lock()
			delete(d.pairingByConn, conn.ID())
			d.mu.Unlock()
			if rec, ok := w.(*recorder); ok {
				rec.CloseAfter()
			}
		}
	}
}

// ServeConnection drives one control connection's request/response loop
// until the socket errors, the client upgrades to PTTH (after which this
// receiver only ever pushes to the connection, never reads from it again),
// or a fatal error closes it.
func (d *Dispatcher) ServeConnection(conn *httpx.Connection) error {
	for {
		req, err := conn.ReadRequest()
		if err != nil {
			return err
		}
		req = withConn(req, conn)

		rec := newRecorder()
		d.router.ServeHTTP(rec, req)

		if !rec.suppressed {
			if err := conn.WriteResponse(rec.toResponse(req)); err != nil {
				return err
			}
		}

		if conn.Type() == httpx.PTTHReverse {
			return nil
		}
		if rec.closeAfter {
			return conn.Close()
		}
	}
}

// ConnectionClosed drops any pairing progress held for a connection that
// has gone away, so a reused connection ID (after process-long uptime)
// never resumes a stale handshake.
func (d *Dispatcher) ConnectionClosed(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pairingByConn, id)
}

func (d *Dispatcher) pairingStateFor(connID string) *pairingState {
	d.mu.Lock()
	defer d.mu.Unlock()
	ps, ok := d.pairingByConn[connID]
	if !ok {
		ps = &pairingState{session: pairing.NewSession(d.identity)}
		d.pairingByConn[connID] = ps
	}
	return ps
}

// pairingHTTPError maps a pairing.Error onto the shared error taxonomy.
// Every pairing failure is a 470 Connection Authorization Required; Fatal
// ones additionally tear down the connection (handled by wrap via
// pairing.Fatal).
func pairingHTTPError(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.NewAuthError(op, err)
}

func gmtDate() string {
	return time.Now().UTC().Format(http.TimeFormat)
}
