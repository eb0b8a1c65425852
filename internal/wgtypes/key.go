// Package wgtypes defines the WireGuard key and wire-message types shared by
// the client core and the Interface Daemon IPC boundary (§6 of the spec).
// Key parsing/generation delegates to golang.zx2c4.com/wireguard/wgctrl's
// wgtypes package; this package only adds the lowercase-hex wire encoding
// the IPC schema requires.
package wgtypes

import (
	"encoding/hex"
	"strings"

	upstream "golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/defguard/client/internal/errors"
)

// Key is a 32-byte WireGuard key (private, public, or preshared) that
// marshals to lowercase hex on the wire, per spec.md §4.B "all keys are
// lowercase hex on the wire".
type Key upstream.Key

// GenerateKey generates a new random private key.
func GenerateKey() (Key, error) {
	k, err := upstream.GeneratePrivateKey()
	if err != nil {
		return Key{}, errors.Wrap(errors.KindWireGuard, "generate private key", err)
	}
	return Key(k), nil
}

// PublicKey derives the public key from a private key.
func (k Key) PublicKey() Key {
	return Key(upstream.Key(k).PublicKey())
}

// ParseKeyHex parses a lowercase-hex-encoded key, as received over IPC.
func ParseKeyHex(s string) (Key, error) {
	b, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return Key{}, errors.Wrap(errors.KindKeyDecode, "decode hex key", err)
	}
	if len(b) != upstream.KeyLen {
		return Key{}, errors.New(errors.KindKeyDecode, "key has wrong length")
	}
	var k Key
	copy(k[:], b)
	return k, nil
}

// ParseKeyBase64 parses a standard WireGuard base64 key, as used in config
// files and the Instance/Location store rows (§6 imported peer-config).
func ParseKeyBase64(s string) (Key, error) {
	k, err := upstream.ParseKey(strings.TrimSpace(s))
	if err != nil {
		return Key{}, errors.Wrap(errors.KindKeyDecode, "decode base64 key", err)
	}
	return Key(k), nil
}

// HexString returns the lowercase-hex wire form used by CreateInterfaceRequest.
func (k Key) HexString() string {
	return hex.EncodeToString(k[:])
}

// MarshalText encodes the key as lowercase hex, so encoding/json writes
// keys in their IPC wire form.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.HexString()), nil
}

// UnmarshalText decodes a hex-encoded key, the inverse of MarshalText.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKeyHex(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// String returns the standard WireGuard base64 form, used for storage and
// display. It deliberately differs from HexString: private key material
// formatted this way must never be logged (invariant 3, §8).
func (k Key) String() string {
	return upstream.Key(k).String()
}

// IsZero reports whether the key is all-zero (unset).
func (k Key) IsZero() bool {
	return upstream.Key(k) == upstream.Key{}
}
