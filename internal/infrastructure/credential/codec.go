// Package credential is the encoding/hashing seam for server management API
// secrets (api_credential). Storage is an opaque []byte; Codec is where an
// external encryption-at-rest collaborator plugs in. Hash/Verify give the
// admin layer a way to detect a corrupted or accidentally-blanked credential
// without ever decoding it back to plaintext.
package credential

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	cost     = bcrypt.DefaultCost
	costOnce sync.Once
)

// Init sets the bcrypt cost used by Hash. Should be called once at startup;
// subsequent calls are no-ops. A non-positive cost keeps bcrypt.DefaultCost.
func Init(bcryptCost int) {
	costOnce.Do(func() {
		if bcryptCost > 0 {
			cost = bcryptCost
		}
	})
}

// Codec encodes a credential for storage and decodes it back to the
// plaintext a VpnBackend client needs to authenticate. The identity codec
// below is the default; a real deployment plugs in an encrypting codec
// backed by an external key-management collaborator without touching any
// caller of this interface.
type Codec interface {
	Encode(plaintext []byte) ([]byte, error)
	Decode(encoded []byte) ([]byte, error)
}

// IdentityCodec stores the credential as-is. It's the seam's default
// implementation, not a security boundary by itself.
type IdentityCodec struct{}

func (IdentityCodec) Encode(plaintext []byte) ([]byte, error) { return plaintext, nil }
func (IdentityCodec) Decode(encoded []byte) ([]byte, error)   { return encoded, nil }

// Hash returns a bcrypt hash of plaintext for integrity verification. It is
// one-way and never used to reconstruct the credential a backend client
// authenticates with — that always comes from Codec.Decode.
func Hash(plaintext []byte) (string, error) {
	h, err := bcrypt.GenerateFromPassword(plaintext, cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Verify reports whether plaintext matches a hash previously produced by
// Hash.
func Verify(hash string, plaintext []byte) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), plaintext) == nil
}
