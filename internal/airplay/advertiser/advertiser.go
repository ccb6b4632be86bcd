// Package advertiser defines the boundary to the mDNS/DNS-SD service
// announcement the receiver needs to be discoverable by AirPlay senders.
// The actual multicast responder is out of scope for this receiver; only
// the interface and the TXT-record shape it's fed live here.
package advertiser

// ServiceInfo is the set of facts the mDNS/DNS-SD responder needs to
// announce an AirPlay _airplay._tcp service instance.
type ServiceInfo struct {
	Name       string // the user-visible device name
	Port       int
	DeviceID   string // colon-separated MAC-style identifier, also used as SRP username default
	Model      string
	PublicKey  []byte // the pairing identity's Ed25519 public key, advertised in the "pk" TXT field
	Features   uint64
	SourceVers string
}

// Advertiser announces and withdraws an AirPlay service instance. The
// concrete implementation (e.g. an mDNS responder) is an external
// collaborator; the core only depends on this interface.
type Advertiser interface {
	Announce(info ServiceInfo) error
	Withdraw() error
}

// NoopAdvertiser is a logging stand-in for environments without a wired
// mDNS responder (tests, or a build running behind a reverse proxy where
// discovery is handled externally).
type NoopAdvertiser struct {
	Log func(event string, kv ...any)
}

func (a *NoopAdvertiser) logf(event string, kv ...any) {
	if a.Log != nil {
		a.Log(event, kv...)
	}
}

func (a *NoopAdvertiser) Announce(info ServiceInfo) error {
	a.logf("advertiser.announce", "name", info.Name, "port", info.Port, "device_id", info.DeviceID)
	return nil
}

func (a *NoopAdvertiser) Withdraw() error {
	a.logf("advertiser.withdraw")
	return nil
}
