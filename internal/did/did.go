// Package did creates the admin identity a local Ceramic node trusts and
// registers it in the node's daemon config.
package did

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/multiformats/go-multibase"
)

// KeyPrefix starts every did:key identifier.
const KeyPrefix = "did:key:"

// ed25519-pub multicodec, varint encoded.
var ed25519Codec = []byte{0xed, 0x01}

var didPattern = regexp.MustCompile(`^did:[a-z0-9]+:[A-Za-z0-9._:%-]+$`)

var (
	// ErrInvalidSeed is returned for seeds that are not 32 hex-encoded bytes.
	ErrInvalidSeed = errors.New("seed must be 32 bytes of hex")
	// ErrNotKeyDID is returned when a DID is not an ed25519 did:key.
	ErrNotKeyDID = errors.New("not an ed25519 did:key")
)

// AdminKey is a seed and the did:key derived from it.
type AdminKey struct {
	Seed string `json:"seed"`
	DID  string `json:"did"`
}

// IsDID reports whether s has the did:<method>:<id> shape.
func IsDID(s string) bool {
	return didPattern.MatchString(s)
}

// GenerateAdminKey draws a random seed and derives its DID.
func GenerateAdminKey() (AdminKey, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return AdminKey{}, fmt.Errorf("read random seed: %w", err)
	}
	return FromSeed(hex.EncodeToString(seed))
}

// FromSeed derives the did:key of a hex-encoded ed25519 seed.
func FromSeed(hexSeed string) (AdminKey, error) {
	hexSeed = strings.TrimSpace(hexSeed)
	seed, err := hex.DecodeString(hexSeed)
	if err != nil || len(seed) != ed25519.SeedSize {
		return AdminKey{}, ErrInvalidSeed
	}
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	id, err := KeyDID(pub)
	if err != nil {
		return AdminKey{}, err
	}
	return AdminKey{Seed: hexSeed, DID: id}, nil
}

// KeyDID encodes an ed25519 public key as did:key:z....
func KeyDID(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("public key has %d bytes", len(pub))
	}
	data := append(append([]byte{}, ed25519Codec...), pub...)
	enc, err := multibase.Encode(multibase.Base58BTC, data)
	if err != nil {
		return "", fmt.Errorf("multibase encode: %w", err)
	}
	return KeyPrefix + enc, nil
}

// PublicKey decodes the ed25519 key of a did:key.
func PublicKey(id string) (ed25519.PublicKey, error) {
	enc, ok := strings.CutPrefix(id, KeyPrefix)
	if !ok {
		return nil, ErrNotKeyDID
	}
	_, data, err := multibase.Decode(enc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotKeyDID, err)
	}
	if len(data) != len(ed25519Codec)+ed25519.PublicKeySize ||
		data[0] != ed25519Codec[0] || data[1] != ed25519Codec[1] {
		return nil, ErrNotKeyDID
	}
	return ed25519.PublicKey(data[len(ed25519Codec):]), nil
}
