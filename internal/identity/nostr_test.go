package identity

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peervault/peervault/internal/common"
)

func newTestIdentity(t *testing.T, callsign string) *NostrIdentity {
	t.Helper()
	id, err := NewNostrIdentity(callsign, GenerateSecretKey())
	require.NoError(t, err)
	return id
}

func TestNostrIdentity_SignAndVerify(t *testing.T) {
	id := newTestIdentity(t, "ALFA")

	ev := &Event{
		CreatedAt: 1750000000,
		Kind:      14001,
		Tags:      [][]string{{"p", id.PublicKey()}},
		Content:   `{"interval_days":3}`,
	}
	require.NoError(t, id.SignEvent(ev))

	assert.Equal(t, id.PublicKey(), ev.PubKey)
	assert.NotEmpty(t, ev.ID)
	assert.NotEmpty(t, ev.Sig)
	assert.NoError(t, VerifyEvent(ev))
}

func TestVerifyEvent_TamperedContent(t *testing.T) {
	id := newTestIdentity(t, "ALFA")

	ev := &Event{CreatedAt: 1750000000, Kind: 14001, Tags: [][]string{}, Content: "original"}
	require.NoError(t, id.SignEvent(ev))

	ev.Content = "forged"
	err := VerifyEvent(ev)
	assert.True(t, errors.Is(err, common.ErrSignatureInvalid))
}

func TestVerifyEvent_WrongSigner(t *testing.T) {
	alfa := newTestIdentity(t, "ALFA")
	base := newTestIdentity(t, "BASE1")

	ev := &Event{CreatedAt: 1750000000, Kind: 14001, Tags: [][]string{}, Content: "hello"}
	require.NoError(t, alfa.SignEvent(ev))

	// Claiming another pubkey invalidates both id and signature.
	ev.PubKey = base.PublicKey()
	err := VerifyEvent(ev)
	assert.True(t, errors.Is(err, common.ErrSignatureInvalid))
}

func TestNostrIdentity_EncryptDecryptBothDirections(t *testing.T) {
	client := newTestIdentity(t, "ALFA")
	provider := newTestIdentity(t, "BASE1")

	plain := []byte("KN4CRD de ALFA: logbook contents")

	sealed, err := client.Encrypt(plain, provider.PublicKey())
	require.NoError(t, err)
	assert.NotEqual(t, plain, sealed)

	// The recipient can open it.
	got, err := provider.Decrypt(sealed, client.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	// So can the sender: the shared secret is symmetric, which is what
	// restore relies on to read back blobs encrypted toward the provider.
	got, err = client.Decrypt(sealed, provider.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestNostrIdentity_EncryptToSelf(t *testing.T) {
	id := newTestIdentity(t, "ALFA")

	plain := []byte(strings.Repeat("manifest ", 100))
	sealed, err := id.Encrypt(plain, id.PublicKey())
	require.NoError(t, err)

	got, err := id.Decrypt(sealed, id.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestNostrIdentity_DecryptWrongKey(t *testing.T) {
	client := newTestIdentity(t, "ALFA")
	provider := newTestIdentity(t, "BASE1")
	eve := newTestIdentity(t, "EVE")

	sealed, err := client.Encrypt([]byte("secret"), provider.PublicKey())
	require.NoError(t, err)

	_, err = eve.Decrypt(sealed, client.PublicKey())
	assert.Error(t, err)
}

func TestNpubToHex_RoundTrip(t *testing.T) {
	id := newTestIdentity(t, "ALFA")

	hex, err := NpubToHex(id.Npub())
	require.NoError(t, err)
	assert.Equal(t, id.PublicKey(), hex)
}

func TestNpubToHex_Invalid(t *testing.T) {
	_, err := NpubToHex("not-an-npub")
	assert.Error(t, err)
}

func TestNewNostrIdentity_BadKey(t *testing.T) {
	_, err := NewNostrIdentity("ALFA", "zz")
	assert.Error(t, err)
}
