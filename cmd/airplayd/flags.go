package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds user-supplied flag values prior to translation into
// server.Config, so main.go can validate and map them.
type cliConfig struct {
	listenAddr    string
	name          string
	deviceID      string
	model         string
	sourceVersion string
	keyFile       string
	password      string
	logLevel      string
	showVersion   bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("airplayd", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.listenAddr, "listen", ":7000", "TCP listen address for the control connection")
	fs.StringVar(&cfg.name, "name", "AirPlay Receiver", "Device name advertised over mDNS")
	fs.StringVar(&cfg.deviceID, "device-id", "", "Colon-separated MAC-style device identifier (default: 58:55:CA:1A:E2:88)")
	fs.StringVar(&cfg.model, "model", "AppleTV3,2", "Reported device model")
	fs.StringVar(&cfg.sourceVersion, "source-version", "220.68", "Reported srcvers value")
	fs.StringVar(&cfg.keyFile, "keyfile", "airplay_identity.key", "Path to the persisted Ed25519 identity seed")
	fs.StringVar(&cfg.password, "password", "", "Shared setup password; empty disables HTTP-Digest auth")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.deviceID != "" && !looksLikeMAC(cfg.deviceID) {
		return nil, fmt.Errorf("invalid -device-id %q: expected colon-separated MAC-style identifier", cfg.deviceID)
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid -log-level %q", cfg.logLevel)
	}

	return cfg, nil
}

func looksLikeMAC(s string) bool {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return false
	}
	for _, p := range parts {
		if len(p) != 2 {
			return false
		}
	}
	return true
}
