package pairing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/ashwilson/go-airplay/internal/srp"
)

func rngRead(b []byte) (int, error) { return rand.Read(b) }

// Status is the pairing session's state, mirroring the four-state FSM the
// original receiver drives every pair-setup/pair-verify exchange through.
type Status int

const (
	Initial Status = iota
	Setup
	Handshake
	Finished
)

func (s Status) String() string {
	switch s {
	case Initial:
		return "initial"
	case Setup:
		return "setup"
	case Handshake:
		return "handshake"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

const (
	sigSize        = ed25519.SignatureSize
	x25519KeySize  = 32
	aesBlockSize   = 16
	maxSRPUsername = 255
)

// srpState holds the SRP-6a artifacts alive only during the Setup phase.
type srpState struct {
	session  *srp.ServerSession
	username string
}

// Session is a per-connection pairing handshake. Zero value is Initial.
type Session struct {
	status Status

	identity *Identity

	edTheirs ed25519.PublicKey

	ecdhPriv   [x25519KeySize]byte
	ecdhPub    [x25519KeySize]byte
	ecdhTheirs [x25519KeySize]byte
	ecdhSecret [x25519KeySize]byte

	srp *srpState

	clientLongTermPK  []byte
	pairSetupConfirmed bool
}

// NewSession creates a pairing session bound to the server's long-term
// identity.
func NewSession(identity *Identity) *Session {
	return &Session{status: Initial, identity: identity}
}

// Status returns the current FSM state.
func (s *Session) Status() Status { return s.status }

// PairSetupConfirmed reports whether pair-setup completed successfully on
// this logical pairing (persisted trust bootstrap).
func (s *Session) PairSetupConfirmed() bool { return s.pairSetupConfirmed }

// ClientLongTermPublicKey returns the client's authenticated long-term
// Ed25519 public key, valid only after a successful pair-setup.
func (s *Session) ClientLongTermPublicKey() []byte { return s.clientLongTermPK }

// --- Pair-Setup (SRP-6a trust bootstrap) ---

// BeginPairSetup starts SRP for deviceID/pin and returns (salt, serverPublicB).
func (s *Session) BeginPairSetup(deviceID, pin string) (salt, serverB []byte, err error) {
	if len(deviceID) > maxSRPUsername {
		return nil, nil, newErr(UsernameTooLong, "pairSetup.begin", nil)
	}

	saltBytes, verifier, err := srp.NewVerifier(deviceID, pin)
	if err != nil {
		return nil, nil, newErr(BadState, "pairSetup.begin", err)
	}
	session, err := srp.NewServerSession(deviceID, saltBytes, verifier)
	if err != nil {
		return nil, nil, newErr(BadState, "pairSetup.begin", err)
	}

	s.srp = &srpState{session: session, username: deviceID}
	s.status = Setup
	return session.Salt(), session.PublicKey(), nil
}

// VerifyPairSetupProof ingests the client's public key A and proof M1,
// returning the server confirmation proof M2. On proof mismatch the SRP
// sub-state is destroyed per the original's srp_validate_proof behavior.
func (s *Session) VerifyPairSetupProof(clientA, clientProof []byte) (serverProof []byte, err error) {
	if s.srp == nil || s.status != Setup {
		return nil, newErr(BadState, "pairSetup.verifyProof", nil)
	}
	if err := s.srp.session.ComputeSessionKey(clientA); err != nil {
		s.srp = nil
		return nil, newErr(BadPeerKey, "pairSetup.verifyProof", err)
	}
	m2, ok := s.srp.session.ValidateProof(clientProof)
	if !ok {
		s.srp = nil
		return nil, newErr(SrpProofMismatch, "pairSetup.verifyProof", nil)
	}
	return m2, nil
}

// ConfirmPairSetup decrypts the client's encrypted long-term public key
// epk using AES-128-GCM with a key/IV derived from the SRP session key,
// and on success returns the server's own encrypted long-term public key
// plus its auth tag for the reply.
func (s *Session) ConfirmPairSetup(epk, authTag []byte) (serverEPK, serverAuthTag []byte, err error) {
	if s.srp == nil || s.srp.session.SessionKey() == nil {
		return nil, nil, newErr(BadState, "pairSetup.confirm", nil)
	}
	sessionKey := s.srp.session.SessionKey()

	aesKey := derivePairSetupMaterial("Pair-Setup-AES-Key", sessionKey)
	iv := derivePairSetupMaterial("Pair-Setup-AES-IV", sessionKey)
	iv[15]++

	s.srp = nil // SRP data is no longer needed once we reach GCM confirm.

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, nil, newErr(GcmAuthFailure, "pairSetup.confirm", err)
	}
	// The original receiver uses a full 16-byte GCM IV (not the usual
	// 12-byte nonce) so that incrementing its last byte between the two
	// GCM operations actually changes the nonce used.
	gcm, err := cipher.NewGCMWithNonceSize(block, aesBlockSize)
	if err != nil {
		return nil, nil, newErr(GcmAuthFailure, "pairSetup.confirm", err)
	}

	sealed := append(append([]byte(nil), epk...), authTag...)
	clientPK, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, nil, newErr(GcmAuthFailure, "pairSetup.confirm", err)
	}

	s.clientLongTermPK = clientPK
	s.pairSetupConfirmed = true

	// Encryption needs an additional nonce increment beyond decryption's.
	iv[15]++
	serverPK := s.identity.PublicKey()
	sealedOut := gcm.Seal(nil, iv, serverPK, nil)
	ct := sealedOut[:len(sealedOut)-gcm.Overhead()]
	tag := sealedOut[len(sealedOut)-gcm.Overhead():]
	return ct, tag, nil
}

func derivePairSetupMaterial(salt string, sessionKey []byte) []byte {
	h := sha512.New()
	h.Write([]byte(salt))
	h.Write(sessionKey)
	sum := h.Sum(nil)
	out := make([]byte, aesBlockSize)
	copy(out, sum[:aesBlockSize])
	return out
}

// --- Pair-Verify (per-session ECDH key agreement) ---

// Handshake performs step 1 of pair-verify: given the client's X25519 and
// Ed25519 public keys, generates an ephemeral X25519 keypair, derives the
// shared secret, and returns our public key plus the AES-CTR-encrypted
// signature over ours||theirs.
func (s *Session) Handshake(clientECDHPub, clientEdPub []byte) (ourECDHPub, encryptedSig []byte, err error) {
	if s.status == Finished {
		return nil, nil, newErr(BadState, "pairVerify.handshake", nil)
	}
	if len(clientECDHPub) != x25519KeySize || len(clientEdPub) != ed25519.PublicKeySize {
		return nil, nil, newErr(BadPeerKey, "pairVerify.handshake", nil)
	}

	copy(s.ecdhTheirs[:], clientECDHPub)
	s.edTheirs = append(ed25519.PublicKey(nil), clientEdPub...)

	if _, err := rngRead(s.ecdhPriv[:]); err != nil {
		return nil, nil, newErr(BadState, "pairVerify.handshake", err)
	}
	curve25519.ScalarBaseMult(&s.ecdhPub, &s.ecdhPriv)

	secret, err := curve25519.X25519(s.ecdhPriv[:], s.ecdhTheirs[:])
	if err != nil {
		return nil, nil, newErr(BadPeerKey, "pairVerify.handshake", err)
	}
	copy(s.ecdhSecret[:], secret)

	s.status = Handshake

	sigMsg := make([]byte, x25519KeySize*2)
	copy(sigMsg, s.ecdhPub[:])
	copy(sigMsg[x25519KeySize:], s.ecdhTheirs[:])
	signature := ed25519.Sign(s.identity.priv, sigMsg)

	key := s.deriveVerifyMaterial("Pair-Verify-AES-Key")
	iv := s.deriveVerifyMaterial("Pair-Verify-AES-IV")
	stream := newCTRStream(key, iv)
	enc := make([]byte, sigSize)
	stream.XORKeyStream(enc, signature)

	return append([]byte(nil), s.ecdhPub[:]...), enc, nil
}

// Finish performs step 2 of pair-verify: decrypts the client's signature
// continuing the same CTR keystream used in Handshake (first discarding the
// sigSize = 64 bytes of keystream the outbound signature consumed, so the
// inbound decrypt starts at stream offset 64), then verifies it against
// theirs||ours.
func (s *Session) Finish(encryptedSig []byte) error {
	if s.status != Handshake {
		return newErr(BadState, "pairVerify.finish", nil)
	}
	if len(encryptedSig) != sigSize {
		return newErr(BadPeerKey, "pairVerify.finish", fmt.Errorf("signature length %d", len(encryptedSig)))
	}

	key := s.deriveVerifyMaterial("Pair-Verify-AES-Key")
	iv := s.deriveVerifyMaterial("Pair-Verify-AES-IV")
	stream := newCTRStream(key, iv)

	// One fake round: the outbound Handshake message already consumed the
	// first PAIRING_SIG_SIZE bytes of keystream, so replay that consumption
	// here before decrypting the real signature.
	discard := make([]byte, sigSize)
	stream.XORKeyStream(discard, discard)

	sig := make([]byte, sigSize)
	stream.XORKeyStream(sig, encryptedSig)

	sigMsg := make([]byte, x25519KeySize*2)
	copy(sigMsg, s.ecdhTheirs[:])
	copy(sigMsg[x25519KeySize:], s.ecdhPub[:])

	if !ed25519.Verify(s.edTheirs, sigMsg, sig) {
		return newErr(SignatureMismatch, "pairVerify.finish", nil)
	}

	s.status = Finished
	return nil
}

func (s *Session) deriveVerifyMaterial(salt string) []byte {
	h := sha512.New()
	h.Write([]byte(salt))
	h.Write(s.ecdhSecret[:])
	sum := h.Sum(nil)
	out := make([]byte, aesBlockSize)
	copy(out, sum[:aesBlockSize])
	return out
}

func newCTRStream(key, iv []byte) cipher.Stream {
	block, err := aes.NewCipher(key)
	if err != nil {
		panic("pairing: AES-128 key must be 16 bytes: " + err.Error())
	}
	return cipher.NewCTR(block, iv)
}
