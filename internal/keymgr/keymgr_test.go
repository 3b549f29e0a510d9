package keymgr

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/require"
)

func genKeypair(t *testing.T) (npub, nsec, pubHex string, priv *btcec.PrivateKey) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	pubHex = hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
	npub, err = encodeHRP(npubHRP, schnorr.SerializePubKey(priv.PubKey()))
	require.NoError(t, err)
	nsec, err = encodeHRP(nsecHRP, priv.Serialize())
	require.NoError(t, err)
	return npub, nsec, pubHex, priv
}

func TestImportMatchingKeysSucceeds(t *testing.T) {
	npub, nsec, pubHex, _ := genKeypair(t)
	m := NewManager(NewMemoryStore())

	sess, err := m.Import(npub, nsec)
	require.NoError(t, err)
	require.Equal(t, pubHex, sess.PublicKey)
	require.WithinDuration(t, time.Now(), time.UnixMilli(sess.Timestamp), 2*time.Second)
}

func TestImportMismatchedKeysFails(t *testing.T) {
	npubA, _, _, _ := genKeypair(t)
	_, nsecB, _, _ := genKeypair(t)
	m := NewManager(NewMemoryStore())

	_, err := m.Import(npubA, nsecB)
	require.ErrorIs(t, err, ErrKeyMismatch)
}

func TestImportRejectsWrongHRP(t *testing.T) {
	npub, nsec, _, _ := genKeypair(t)
	m := NewManager(NewMemoryStore())

	_, err := m.Import(nsec, npub) // swapped
	require.Error(t, err)
}

func TestLoadRoundTrip(t *testing.T) {
	npub, nsec, pubHex, _ := genKeypair(t)
	store := NewMemoryStore()
	m := NewManager(store)

	_, err := m.Import(npub, nsec)
	require.NoError(t, err)

	sess, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, pubHex, sess.PublicKey)
}

func TestLoadNoSession(t *testing.T) {
	m := NewManager(NewMemoryStore())
	_, err := m.Load()
	require.ErrorIs(t, err, ErrNoSession)
}

func TestLoadExpiredSession(t *testing.T) {
	npub, nsec, _, _ := genKeypair(t)
	store := NewMemoryStore()
	m := NewManager(store)

	_, err := m.Import(npub, nsec)
	require.NoError(t, err)

	token, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	token.Timestamp -= (SessionTTL + time.Minute).Milliseconds()
	require.NoError(t, store.Save(token))

	_, err = m.Load()
	require.ErrorIs(t, err, ErrSessionExpired)

	_, ok, err = store.Load()
	require.NoError(t, err)
	require.False(t, ok, "expired session should be deleted")
}

func TestLoadTamperedSignatureFails(t *testing.T) {
	npub, nsec, _, _ := genKeypair(t)
	store := NewMemoryStore()
	m := NewManager(store)

	_, err := m.Import(npub, nsec)
	require.NoError(t, err)

	token, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	token.Signature = token.Signature[:len(token.Signature)-2] + "00"
	require.NoError(t, store.Save(token))

	_, err = m.Load()
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestLogoutDeletesToken(t *testing.T) {
	npub, nsec, _, _ := genKeypair(t)
	store := NewMemoryStore()
	m := NewManager(store)

	_, err := m.Import(npub, nsec)
	require.NoError(t, err)
	require.NoError(t, m.Logout())

	_, ok, err := store.Load()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEncodeDecodeNpubRoundTrip(t *testing.T) {
	_, _, pubHex, _ := genKeypair(t)
	npub, err := EncodeNpub(pubHex)
	require.NoError(t, err)
	decoded, err := DecodeNpub(npub)
	require.NoError(t, err)
	require.Equal(t, pubHex, decoded)
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir + "/session.json")

	_, ok, err := store.Load()
	require.NoError(t, err)
	require.False(t, ok)

	tok := Token{V: 1, PublicKey: "abc", Timestamp: 123, Signature: "def"}
	require.NoError(t, store.Save(tok))

	loaded, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tok, loaded)

	require.NoError(t, store.Delete())
	_, ok, err = store.Load()
	require.NoError(t, err)
	require.False(t, ok)
}
