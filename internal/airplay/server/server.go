// Package server wires every airplay subsystem together behind a TCP
// listener: the connection table, the pairing identity, the playback
// registry, the control dispatcher, and the mDNS/DNS-SD advertiser.
package server

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/ashwilson/go-airplay/internal/airplay/advertiser"
	"github.com/ashwilson/go-airplay/internal/airplay/control"
	"github.com/ashwilson/go-airplay/internal/airplay/httpx"
	"github.com/ashwilson/go-airplay/internal/airplay/pairing"
	"github.com/ashwilson/go-airplay/internal/airplay/playback"
	"github.com/ashwilson/go-airplay/internal/airplay/renderer"
	"github.com/ashwilson/go-airplay/internal/logger"
)

// Config holds every knob the CLI exposes for starting a receiver.
type Config struct {
	ListenAddr string // TCP address the control connection listens on, e.g. ":7000"
	Name       string // user-visible device name advertised over mDNS
	DeviceID   string // colon-separated MAC-style identifier
	Model      string
	SourceVersion string
	KeyFile    string // path to the persisted Ed25519 identity seed
	Password   string // empty disables HTTP-Digest auth entirely

	Advertiser advertiser.Advertiser
	Renderer   renderer.Renderer
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":7000"
	}
	if c.Name == "" {
		c.Name = "AirPlay Receiver"
	}
	if c.DeviceID == "" {
		c.DeviceID = "58:55:CA:1A:E2:88"
	}
	if c.KeyFile == "" {
		c.KeyFile = "airplay_identity.key"
	}
	if c.Advertiser == nil {
		c.Advertiser = &advertiser.NoopAdvertiser{Log: logger.Logger().Info}
	}
	if c.Renderer == nil {
		c.Renderer = &renderer.NoopRenderer{Log: logger.Logger().Info}
	}
}

// Server accepts control connections and drives each one through the
// control package's request dispatcher until it closes.
type Server struct {
	cfg      Config
	identity *pairing.Identity
	table    *httpx.Table
	registry *playback.Registry
	dispatch *control.Dispatcher
	log      *logger.Logger

	mu      sync.Mutex
	ln      net.Listener
	closing bool
	wg      sync.WaitGroup
}

// New builds an unstarted Server, loading (or generating) the pairing
// identity eagerly so a bad key file fails fast rather than on first
// connection.
func New(cfg Config) (*Server, error) {
	cfg.applyDefaults()

	identity, err := pairing.LoadOrGenerate(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("server: loading pairing identity: %w", err)
	}

	table := httpx.NewTable()
	registry := playback.NewRegistry()
	log := logger.Logger().With("component", "airplay_server")

	port := portFromAddr(cfg.ListenAddr)
	dispatch := control.NewDispatcher(control.Config{
		DeviceID:      cfg.DeviceID,
		Model:         cfg.Model,
		SourceVersion: cfg.SourceVersion,
		HTTPPort:      port,
		Password:      cfg.Password,
	}, identity, table, registry, cfg.Renderer, log)

	return &Server{
		cfg:      cfg,
		identity: identity,
		table:    table,
		registry: registry,
		dispatch: dispatch,
		log:      log,
	}, nil
}

func portFromAddr(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 7000
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil || port == 0 {
		return 7000
	}
	return port
}

// Start binds the listener and launches the accept loop; it returns once
// the socket is bound, not once the server stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.ln != nil {
		s.mu.Unlock()
		return errors.New("server: already started")
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.ln = ln
	s.mu.Unlock()

	if err := s.cfg.Advertiser.Announce(advertiser.ServiceInfo{
		Name:       s.cfg.Name,
		Port:       portFromAddr(ln.Addr().String()),
		DeviceID:   s.cfg.DeviceID,
		Model:      s.cfg.Model,
		PublicKey:  s.identity.PublicKey(),
		SourceVers: s.cfg.SourceVersion,
	}); err != nil {
		s.log.Error("mDNS announce failed", "err", err.Error())
	}

	s.log.Info("airplay receiver listening", "addr", ln.Addr().String())
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		ln := s.ln
		s.mu.Unlock()
		if ln == nil {
			return
		}

		raw, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept error", "err", err.Error())
			return
		}

		conn := httpx.NewConnection(raw)
		s.table.Add(conn)
		conn.Log().Info("control connection accepted", "remote", raw.RemoteAddr().String())

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn *httpx.Connection) {
	defer s.wg.Done()
	defer s.table.Remove(conn.ID())
	defer s.dispatch.ConnectionClosed(conn.ID())
	defer conn.Close()

	if err := s.dispatch.ServeConnection(conn); err != nil {
		conn.Log().Debug("control connection closed", "err", err.Error())
	}
}

// Stop stops accepting new connections, closes every tracked connection,
// withdraws the mDNS announcement, and waits for all goroutines to exit.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.ln == nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()

	_ = ln.Close()
	s.table.CloseAll()

	if err := s.cfg.Advertiser.Withdraw(); err != nil {
		s.log.Error("mDNS withdraw failed", "err", err.Error())
	}

	s.wg.Wait()
	s.log.Info("airplay receiver stopped")
	return nil
}

// Addr returns the bound listener address, or nil if not started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}
