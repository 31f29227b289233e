// Package identity defines the signing and encryption contract the backup
// protocol requires from an identity, and provides the default
// implementation backed by Nostr keys (schnorr signatures, NIP-04 payload
// encryption, NIP-19 npub encoding).
package identity

// Event is the signed protocol object exchanged between peers: invites,
// discovery challenges and discovery responses all travel as events. The
// JSON shape matches NIP-01 so events can cross any Nostr-speaking fabric
// unchanged.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// TagValue returns the value of the first tag with the given name.
func (e *Event) TagValue(name string) (string, bool) {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1], true
		}
	}
	return "", false
}

// Identity is a local peer identity: a callsign bound to a keypair. It
// signs outbound protocol events and encrypts/decrypts payloads against
// other identities' public keys. Payload encryption is symmetric under
// the ECDH shared secret, so either party of a pair can decrypt. That is
// what lets a client read back blobs it encrypted toward its provider.
type Identity interface {
	// Callsign is the peer's logical name on the messaging fabric.
	Callsign() string

	// PublicKey returns the hex-encoded public key.
	PublicKey() string

	// Npub returns the bech32 (npub) form of the public key, the form
	// carried in invite responses.
	Npub() string

	// SignEvent fills in ID, PubKey and Sig on ev. Kind, CreatedAt,
	// Tags and Content must already be set.
	SignEvent(ev *Event) error

	// Encrypt seals plaintext toward recipientPubKey (hex).
	Encrypt(plaintext []byte, recipientPubKey string) ([]byte, error)

	// Decrypt opens ciphertext produced between this identity and
	// peerPubKey (hex), in either direction.
	Decrypt(ciphertext []byte, peerPubKey string) ([]byte, error)
}
