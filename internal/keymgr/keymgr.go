// Package keymgr implements peer key import and login-session
// round-tripping: decoding Bech32-encoded secp256k1 keys, deriving and
// verifying the x-only public key, Schnorr-signing a login assertion,
// and persisting/restoring the resulting session token.
//
// Grounded structurally on internal/transparency/signing.go's Signer
// type (construct-once, Sign/Verify, a small persisted identity) and
// on internal/auth/auth.go's session shape, but retargeted to the
// primitives a peer identity actually uses here: Schnorr over
// secp256k1 and Bech32 npub/nsec encoding, via
// github.com/btcsuite/btcd/btcec/v2, its schnorr subpackage, and
// github.com/btcsuite/btcutil/bech32.
package keymgr

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcutil/bech32"
)

const (
	npubHRP = "npub"
	nsecHRP = "nsec"

	// SessionTTL is how long an imported login stays valid before
	// Load treats it as expired.
	SessionTTL = 24 * time.Hour
)

var (
	ErrBech32Decode     = errors.New("keymgr: bech32 decode")
	ErrWrongKeyType     = errors.New("keymgr: unexpected bech32 human-readable part")
	ErrKeyMismatch      = errors.New("keymgr: public key does not match secret key")
	ErrSignatureInvalid = errors.New("keymgr: signature verification failed")
	ErrSessionExpired   = errors.New("keymgr: session expired")
	ErrNoSession        = errors.New("keymgr: no session")
)

// Session is the in-memory result of a successful Import or Load. It
// never carries secret material.
type Session struct {
	PublicKey string // hex x-only public key
	Timestamp int64  // epoch ms the session was established
}

// Token is the persisted form of a Session, matching the v:1 shape
// import() writes.
type Token struct {
	V         int    `json:"v"`
	PublicKey string `json:"public_key"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// Store persists the single current login Token. Implementations need
// not be safe for concurrent use by more than one Manager.
type Store interface {
	Save(Token) error
	Load() (Token, bool, error)
	Delete() error
}

// Manager imports keys, signs login assertions, and round-trips the
// resulting session through a Store.
type Manager struct {
	store Store
}

// NewManager builds a Manager persisting sessions to store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// DecodeNpub decodes a Bech32 "npub1..." string into its hex x-only
// public key.
func DecodeNpub(npub string) (string, error) {
	return decodeHRP(npub, npubHRP)
}

// DecodeNsec decodes a Bech32 "nsec1..." string into a secp256k1
// private key. Callers must call Zero on the result once done with it.
func DecodeNsec(nsec string) (*btcec.PrivateKey, error) {
	hexKey, err := decodeHRP(nsec, nsecHRP)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBech32Decode, err)
	}
	defer zero(raw)
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return priv, nil
}

func decodeHRP(encoded, wantHRP string) (string, error) {
	hrp, data, err := bech32.Decode(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBech32Decode, err)
	}
	if hrp != wantHRP {
		return "", fmt.Errorf("%w: got %q want %q", ErrWrongKeyType, hrp, wantHRP)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBech32Decode, err)
	}
	return hex.EncodeToString(raw), nil
}

// encodeHRP is the inverse of decodeHRP, used by tests and anywhere a
// Bech32 string needs producing from raw key bytes.
func encodeHRP(hrp string, raw []byte) (string, error) {
	data, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, data)
}

// EncodeNpub Bech32-encodes a hex x-only public key as "npub1...".
func EncodeNpub(pubKeyHex string) (string, error) {
	raw, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBech32Decode, err)
	}
	return encodeHRP(npubHRP, raw)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func loginMessage(pubKeyHex string, timestampMs int64) [32]byte {
	msg := pubKeyHex + strconv.FormatInt(timestampMs, 10)
	return sha256.Sum256([]byte(msg))
}

// Import decodes npub and nsec, verifies the secret derives the stated
// public key, signs a login assertion over the current time with
// Schnorr, persists the resulting token, and returns the new Session.
// The private key is zeroed before Import returns, on every path.
func (m *Manager) Import(npub, nsec string) (*Session, error) {
	pubHex, err := DecodeNpub(npub)
	if err != nil {
		return nil, err
	}
	priv, err := DecodeNsec(nsec)
	if err != nil {
		return nil, err
	}
	defer priv.Zero()

	derivedHex := hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
	if subtle.ConstantTimeCompare([]byte(derivedHex), []byte(pubHex)) != 1 {
		return nil, ErrKeyMismatch
	}

	now := time.Now().UnixMilli()
	hash := loginMessage(pubHex, now)
	sig, err := schnorr.Sign(priv, hash[:])
	if err != nil {
		return nil, fmt.Errorf("keymgr: sign login assertion: %w", err)
	}

	token := Token{
		V:         1,
		PublicKey: pubHex,
		Timestamp: now,
		Signature: hex.EncodeToString(sig.Serialize()),
	}
	if err := m.store.Save(token); err != nil {
		return nil, fmt.Errorf("keymgr: persist session: %w", err)
	}
	return &Session{PublicKey: pubHex, Timestamp: now}, nil
}

// Load reads the persisted token and, if it is within SessionTTL and
// its signature still verifies, returns the restored Session. An
// expired or tampered token is deleted from the store before Load
// returns its error.
func (m *Manager) Load() (*Session, error) {
	token, ok, err := m.store.Load()
	if err != nil {
		return nil, fmt.Errorf("keymgr: load session: %w", err)
	}
	if !ok {
		return nil, ErrNoSession
	}

	if time.Now().UnixMilli()-token.Timestamp > SessionTTL.Milliseconds() {
		_ = m.store.Delete()
		return nil, ErrSessionExpired
	}

	pubRaw, err := hex.DecodeString(token.PublicKey)
	if err != nil {
		_ = m.store.Delete()
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	pubKey, err := schnorr.ParsePubKey(pubRaw)
	if err != nil {
		_ = m.store.Delete()
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	sigRaw, err := hex.DecodeString(token.Signature)
	if err != nil {
		_ = m.store.Delete()
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	sig, err := schnorr.ParseSignature(sigRaw)
	if err != nil {
		_ = m.store.Delete()
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	hash := loginMessage(token.PublicKey, token.Timestamp)
	if !sig.Verify(hash[:], pubKey) {
		_ = m.store.Delete()
		return nil, ErrSignatureInvalid
	}

	return &Session{PublicKey: token.PublicKey, Timestamp: token.Timestamp}, nil
}

// Logout deletes the persisted token. There is no in-memory secret
// material left on the Manager to zero; Import already zeroes the
// private key before returning.
func (m *Manager) Logout() error {
	return m.store.Delete()
}
