package identity

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/peervault/peervault/internal/common"
)

// NostrIdentity implements Identity with a Nostr secret key.
type NostrIdentity struct {
	callsign  string
	secretKey string
	publicKey string
	npub      string
}

// NewNostrIdentity builds an identity from a hex-encoded secret key.
func NewNostrIdentity(callsign, secretKeyHex string) (*NostrIdentity, error) {
	pub, err := nostr.GetPublicKey(secretKeyHex)
	if err != nil {
		return nil, fmt.Errorf("deriving public key: %w", err)
	}
	npub, err := nip19.EncodePublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("encoding npub: %w", err)
	}
	return &NostrIdentity{
		callsign:  callsign,
		secretKey: secretKeyHex,
		publicKey: pub,
		npub:      npub,
	}, nil
}

// GenerateSecretKey returns a fresh hex-encoded secret key.
func GenerateSecretKey() string {
	return nostr.GeneratePrivateKey()
}

// NpubToHex converts a bech32 npub into the hex public key.
func NpubToHex(npub string) (string, error) {
	prefix, value, err := nip19.Decode(npub)
	if err != nil {
		return "", fmt.Errorf("decoding npub: %w", err)
	}
	if prefix != "npub" {
		return "", fmt.Errorf("decoding npub: unexpected prefix %q", prefix)
	}
	return value.(string), nil
}

func (n *NostrIdentity) Callsign() string  { return n.callsign }
func (n *NostrIdentity) PublicKey() string { return n.publicKey }
func (n *NostrIdentity) Npub() string      { return n.npub }

func (n *NostrIdentity) SignEvent(ev *Event) error {
	ne := toNostrEvent(ev)
	if err := ne.Sign(n.secretKey); err != nil {
		return fmt.Errorf("signing event: %w", err)
	}
	ev.ID = ne.ID
	ev.PubKey = ne.PubKey
	ev.Sig = ne.Sig
	return nil
}

func (n *NostrIdentity) Encrypt(plaintext []byte, recipientPubKey string) ([]byte, error) {
	key, err := nip04.ComputeSharedSecret(recipientPubKey, n.secretKey)
	if err != nil {
		return nil, fmt.Errorf("computing shared secret: %w", err)
	}
	sealed, err := nip04.Encrypt(string(plaintext), key)
	if err != nil {
		return nil, fmt.Errorf("encrypting payload: %w", err)
	}
	return []byte(sealed), nil
}

func (n *NostrIdentity) Decrypt(ciphertext []byte, peerPubKey string) ([]byte, error) {
	key, err := nip04.ComputeSharedSecret(peerPubKey, n.secretKey)
	if err != nil {
		return nil, fmt.Errorf("computing shared secret: %w", err)
	}
	opened, err := nip04.Decrypt(string(ciphertext), key)
	if err != nil {
		return nil, fmt.Errorf("decrypting payload: %w", err)
	}
	return []byte(opened), nil
}

// VerifyEvent checks that ev carries a valid signature by ev.PubKey over
// its contents. It returns common.ErrSignatureInvalid on any mismatch.
func VerifyEvent(ev *Event) error {
	ne := toNostrEvent(ev)
	ne.ID = ev.ID
	ne.Sig = ev.Sig
	if ne.GetID() != ev.ID {
		return fmt.Errorf("%w: event id does not match content", common.ErrSignatureInvalid)
	}
	ok, err := ne.CheckSignature()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrSignatureInvalid, err)
	}
	if !ok {
		return common.ErrSignatureInvalid
	}
	return nil
}

func toNostrEvent(ev *Event) nostr.Event {
	tags := make(nostr.Tags, 0, len(ev.Tags))
	for _, t := range ev.Tags {
		tags = append(tags, nostr.Tag(t))
	}
	return nostr.Event{
		PubKey:    ev.PubKey,
		CreatedAt: nostr.Timestamp(ev.CreatedAt),
		Kind:      ev.Kind,
		Tags:      tags,
		Content:   ev.Content,
	}
}
