// Package srp implements the server side of SRP-6a (RFC 5054 group
// parameters, SHA-512 hash) used by the pairing setup handshake.
//
// No SRP library in the retrieved corpus covers this variant, so the
// routines are built directly on math/big and crypto/sha512, following
// the structure of the original implementation's srp_new_user /
// srp_validate_proof / srp_confirm_pair_setup sequence.
package srp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"math/big"
)

// Sizes in bytes, matching the original receiver's srp_t layout.
const (
	SaltSize      = 16
	PrivateKeySize = 32
	SessionKeySize = 64 // SHA-512 digest size
)

// group3072 holds the RFC 5054 3072-bit SRP group: N (safe prime) and g
// (generator). This is the group size AirPlay pairing uses.
var (
	nHex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF6955817183995497CEA956AE515D2261898FA051015728E5A8AAAC42DAD33170D04507A33A85521ABDF1CBA64ECFB850458DBEF0A8AEA71575D060C7DB3970F85A6E1E4C7ABF5AE8CDB0933D71E8C94E04A25619DCEE3D2261AD2EE6BF12FFA06D98A0864D87602733EC86A64521F2B18177B200CBBE117577A615D6C770988C0BAD946E208E24FA074E5AB3143DB5BFCE0FD108E4B82D120A93AD2CAFFFFFFFFFFFFFFFF"
	gHex = "05"

	modN = mustHex(nHex)
	modG = mustHex(gHex)

	// k = H(N || PAD(g)), the SRP-6a multiplier, computed once at init time.
	modK = computeK()
)

func mustHex(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("srp: invalid hex constant")
	}
	return n
}

func computeK() *big.Int {
	nBytes := modN.Bytes()
	gBytes := pad(modG, len(nBytes))
	h := sha512.New()
	h.Write(nBytes)
	h.Write(gBytes)
	return new(big.Int).SetBytes(h.Sum(nil))
}

// pad left-pads b's big-endian bytes to length n with zeroes.
func pad(b *big.Int, n int) []byte {
	raw := b.Bytes()
	if len(raw) >= n {
		return raw
	}
	out := make([]byte, n)
	copy(out[n-len(raw):], raw)
	return out
}

func hashInts(ints ...*big.Int) *big.Int {
	h := sha512.New()
	nLen := len(modN.Bytes())
	for _, i := range ints {
		h.Write(pad(i, nLen))
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

// NewVerifier derives a salt and verifier for deviceID/pin the way a fresh
// pairing registration would, mirroring srp_create_salted_verification_key.
func NewVerifier(deviceID, pin string) (salt []byte, verifier []byte, err error) {
	salt = make([]byte, SaltSize)
	if _, err = rand.Read(salt); err != nil {
		return nil, nil, err
	}
	v := computeVerifier(deviceID, pin, salt)
	return salt, pad(v, len(modN.Bytes())), nil
}

func computeX(deviceID, pin string, salt []byte) *big.Int {
	inner := sha512.Sum512([]byte(deviceID + ":" + pin))
	h := sha512.New()
	h.Write(salt)
	h.Write(inner[:])
	return new(big.Int).SetBytes(h.Sum(nil))
}

func computeVerifier(deviceID, pin string, salt []byte) *big.Int {
	x := computeX(deviceID, pin, salt)
	return new(big.Int).Exp(modG, x, modN)
}

// RandomPIN returns a 4-digit setup PIN in the inclusive range [1, 9999]
// (a draw of zero is discarded and redrawn),
// matching the original receiver's random_pin().
func RandomPIN() (int, error) {
	for {
		var b [2]byte
		if _, err := rand.Read(b[:]); err != nil {
			return 0, err
		}
		v := int(b[0])<<8 | int(b[1])
		v %= 10000
		if v != 0 {
			return v, nil
		}
	}
}

// ServerSession holds the server-side SRP state for one pairing attempt.
type ServerSession struct {
	deviceID string
	salt     []byte
	verifier *big.Int
	b        *big.Int // server private ephemeral
	bPub     *big.Int // server public ephemeral B
	clientA  *big.Int
	sessionKey []byte
	authenticated bool
}

// NewServerSession creates a fresh SRP exchange for deviceID using the
// given salt/verifier pair, generating a random server private key b and
// deriving the public ephemeral B = k*v + g^b mod N.
func NewServerSession(deviceID string, salt, verifier []byte) (*ServerSession, error) {
	bBytes := make([]byte, PrivateKeySize)
	if _, err := rand.Read(bBytes); err != nil {
		return nil, err
	}
	b := new(big.Int).SetBytes(bBytes)
	v := new(big.Int).SetBytes(verifier)

	gb := new(big.Int).Exp(modG, b, modN)
	kv := new(big.Int).Mul(modK, v)
	kv.Mod(kv, modN)
	bPub := new(big.Int).Add(kv, gb)
	bPub.Mod(bPub, modN)

	return &ServerSession{
		deviceID: deviceID,
		salt:     append([]byte(nil), salt...),
		verifier: v,
		b:        b,
		bPub:     bPub,
	}, nil
}

// Salt returns the salt to present to the client in step 1 of pair-setup.
func (s *ServerSession) Salt() []byte { return s.salt }

// PublicKey returns B, the server's public ephemeral key.
func (s *ServerSession) PublicKey() []byte {
	return pad(s.bPub, len(modN.Bytes()))
}

var errInvalidPublicKey = errors.New("srp: client public key A is degenerate (A mod N == 0)")

// ComputeSessionKey ingests the client's public key A, validates it isn't
// degenerate, and derives the shared premaster secret S and session key K.
// Must be called before ValidateProof.
func (s *ServerSession) ComputeSessionKey(clientA []byte) error {
	A := new(big.Int).SetBytes(clientA)
	if new(big.Int).Mod(A, modN).Sign() == 0 {
		return errInvalidPublicKey
	}
	s.clientA = A

	u := hashInts(A, s.bPub)
	if u.Sign() == 0 {
		return errors.New("srp: scrambling parameter u is zero")
	}

	// S = (A * v^u) ^ b mod N
	vu := new(big.Int).Exp(s.verifier, u, modN)
	base := new(big.Int).Mul(A, vu)
	base.Mod(base, modN)
	S := new(big.Int).Exp(base, s.b, modN)

	sum := sha512.Sum512(pad(S, len(modN.Bytes())))
	s.sessionKey = sum[:]
	return nil
}

// SessionKey returns the derived SRP session key K. Valid only after a
// successful ComputeSessionKey call.
func (s *ServerSession) SessionKey() []byte { return s.sessionKey }

// ValidateProof checks the client's proof M1 against the expected value
// and returns the server's confirmation proof M2 on success. On mismatch
// the session is left unauthenticated and M2 is not safe to send.
func (s *ServerSession) ValidateProof(clientProof []byte) (serverProof []byte, authenticated bool) {
	expected := s.expectedM1()
	authenticated = subtle.ConstantTimeCompare(expected, clientProof) == 1
	s.authenticated = authenticated
	if !authenticated {
		return nil, false
	}
	m2 := s.computeM2()
	return m2, true
}

func (s *ServerSession) expectedM1() []byte {
	h := sha512.New()
	h.Write(pad(s.clientA, len(modN.Bytes())))
	h.Write(s.bPub.Bytes())
	h.Write(s.sessionKey)
	return h.Sum(nil)
}

func (s *ServerSession) computeM2() []byte {
	mac := hmac.New(sha512.New, s.sessionKey)
	mac.Write(pad(s.clientA, len(modN.Bytes())))
	mac.Write(s.expectedM1())
	return mac.Sum(nil)
}

// Authenticated reports whether ValidateProof has succeeded.
func (s *ServerSession) Authenticated() bool { return s.authenticated }
