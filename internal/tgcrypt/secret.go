package tgcrypt

import (
	"encoding/hex"
	"fmt"
)

type SecretType int

const (
	Simple SecretType = iota + 1
	// Secured secrets start with 0xdd and force padded framing.
	Secured
	// FakeTLS secrets start with 0xee and carry the host to imitate.
	FakeTLS
)

const secretKeyLen = 16

// Secret is an MTProxy secret. Its key is mixed into the obfuscation keys
// when a connection goes through the proxy.
type Secret struct {
	Key  [secretKeyLen]byte
	Type SecretType
	Host string
}

type ErrSecretLength struct {
	length int
}

func (e *ErrSecretLength) Error() string {
	return fmt.Sprintf("incorrect secret length: %d", e.length)
}

func NewSecretHex(secret string) (*Secret, error) {
	b, err := hex.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("secret: %w", err)
	}
	return NewSecret(b)
}

func NewSecret(b []byte) (*Secret, error) {
	s := &Secret{}
	switch {
	case len(b) == secretKeyLen:
		s.Type = Simple
		copy(s.Key[:], b)
		return s, nil
	case len(b) < secretKeyLen+1:
		return nil, &ErrSecretLength{length: len(b)}
	}
	copy(s.Key[:], b[1:secretKeyLen+1])
	switch b[0] {
	case 0xdd:
		if len(b) != secretKeyLen+1 {
			return nil, &ErrSecretLength{length: len(b)}
		}
		s.Type = Secured
	case 0xee:
		if len(b) == secretKeyLen+1 {
			return nil, fmt.Errorf("fake tls secret without host")
		}
		s.Type = FakeTLS
		s.Host = string(b[secretKeyLen+1:])
	default:
		return nil, fmt.Errorf("unknown secret tag %x", b[0])
	}
	return s, nil
}

// Protocol returns the transport tag a client has to use with this secret.
func (s *Secret) Protocol(preferred uint8) (uint8, error) {
	switch s.Type {
	case Simple:
		return preferred, nil
	case Secured:
		return Padded, nil
	}
	return 0, fmt.Errorf("fake tls secrets are not supported by the client transport")
}
