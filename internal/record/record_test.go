package record

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func sampleRecord(t *testing.T) Record {
	t.Helper()
	r := Record{
		UUID:      uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		CreatedAt: 1700000000000,
		Bucket:    "default",
		Author:    Author{Npub: "abc123"},
		Content:   Content{Text: "hello mesh"},
		Geo:       Geo{Latitude: 1.5, Longitude: -2.5},
	}
	h, err := r.ComputeHash()
	require.NoError(t, err)
	r.Integrity = Integrity{Hash: h, Signature: "deadbeef"}
	return r
}

func TestCanonicalHashDeterministic(t *testing.T) {
	r1 := sampleRecord(t)
	r2 := sampleRecord(t)
	h1, err := r1.ComputeHash()
	require.NoError(t, err)
	h2, err := r2.ComputeHash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestVerifyDetectsTamper(t *testing.T) {
	r := sampleRecord(t)
	require.NoError(t, r.Verify())

	r.Content.Text = "tampered"
	require.ErrorIs(t, r.Verify(), ErrHashMismatch)
}

func TestCanonicalBytesExcludesIntegrity(t *testing.T) {
	r := sampleRecord(t)
	b, err := r.CanonicalBytes()
	require.NoError(t, err)
	require.NotContains(t, string(b), "integrity")
	require.NotContains(t, string(b), r.Integrity.Signature)
}

func TestLinkOmittedWhenNil(t *testing.T) {
	r := sampleRecord(t)
	b, err := r.CanonicalBytes()
	require.NoError(t, err)
	require.NotContains(t, string(b), `"link"`)
}
