package tgcrypt

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/geovex/mtcore/internal/bin"
)

const (
	rsaKeyBytes      = 256
	rsaPadDataLen    = 192
	rsaPadMaxDataLen = 144
)

// PublicKey is a DC RSA key with its MTProto fingerprint.
type PublicKey struct {
	*rsa.PublicKey
	Fingerprint int64
}

// RSAFingerprint returns the lower 64 bits of SHA1 over the TL serialized
// modulus and exponent.
func RSAFingerprint(k *rsa.PublicKey) int64 {
	var b bin.Buffer
	b.PutBytes(k.N.Bytes())
	b.PutBytes(big.NewInt(int64(k.E)).Bytes())
	h := SHA1(b.Buf)
	return int64(binary.LittleEndian.Uint64(h[12:20]))
}

func NewPublicKey(k *rsa.PublicKey) PublicKey {
	return PublicKey{PublicKey: k, Fingerprint: RSAFingerprint(k)}
}

// ParsePublicKeys reads every PKCS1 or PKIX RSA public key from PEM data.
func ParsePublicKeys(data []byte) ([]PublicKey, error) {
	var keys []PublicKey
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		var k *rsa.PublicKey
		switch block.Type {
		case "RSA PUBLIC KEY":
			parsed, err := x509.ParsePKCS1PublicKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse pkcs1 key: %w", err)
			}
			k = parsed
		case "PUBLIC KEY":
			parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse pkix key: %w", err)
			}
			rk, ok := parsed.(*rsa.PublicKey)
			if !ok {
				return nil, fmt.Errorf("pkix key is %T, not rsa", parsed)
			}
			k = rk
		default:
			continue
		}
		keys = append(keys, NewPublicKey(k))
	}
	if len(keys) == 0 {
		return nil, errors.New("no rsa public keys found")
	}
	return keys, nil
}

// EncodePublicKey serializes a key as a PKCS1 PEM block.
func EncodePublicKey(k *rsa.PublicKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(k),
	})
}

func reversed(b []byte) []byte {
	r := make([]byte, len(b))
	for i := range b {
		r[len(b)-1-i] = b[i]
	}
	return r
}

// RSAPad encrypts up to 144 bytes of data with the RSA_PAD scheme used for
// p_q_inner_data.
func RSAPad(data []byte, key *rsa.PublicKey, random io.Reader) ([]byte, error) {
	if len(data) > rsaPadMaxDataLen {
		return nil, fmt.Errorf("rsa_pad data too long: %d", len(data))
	}
	withPadding := make([]byte, rsaPadDataLen)
	copy(withPadding, data)
	if _, err := io.ReadFull(random, withPadding[len(data):]); err != nil {
		return nil, err
	}
	padReversed := reversed(withPadding)
	zeroIV := make([]byte, 32)
	e := big.NewInt(int64(key.E))
	for {
		tempKey := make([]byte, 32)
		if _, err := io.ReadFull(random, tempKey); err != nil {
			return nil, err
		}
		h := SHA256(tempKey, withPadding)
		withHash := append(append([]byte{}, padReversed...), h[:]...)
		aesEncrypted, err := IGEEncrypt(withHash, tempKey, zeroIV)
		if err != nil {
			return nil, err
		}
		aesHash := SHA256(aesEncrypted)
		keyAesEncrypted := make([]byte, 0, rsaKeyBytes)
		for i := range tempKey {
			keyAesEncrypted = append(keyAesEncrypted, tempKey[i]^aesHash[i])
		}
		keyAesEncrypted = append(keyAesEncrypted, aesEncrypted...)
		z := new(big.Int).SetBytes(keyAesEncrypted)
		if z.Cmp(key.N) >= 0 {
			continue
		}
		out := make([]byte, rsaKeyBytes)
		new(big.Int).Exp(z, e, key.N).FillBytes(out)
		return out, nil
	}
}

// RSADecodePad reverses RSAPad with the private key and returns the 192 byte
// padded data.
func RSADecodePad(encrypted []byte, key *rsa.PrivateKey) ([]byte, error) {
	if len(encrypted) != rsaKeyBytes {
		return nil, fmt.Errorf("rsa_pad block must be %d bytes, got %d", rsaKeyBytes, len(encrypted))
	}
	c := new(big.Int).SetBytes(encrypted)
	if c.Cmp(key.N) >= 0 {
		return nil, errors.New("rsa_pad block out of range")
	}
	keyAesEncrypted := make([]byte, rsaKeyBytes)
	new(big.Int).Exp(c, key.D, key.N).FillBytes(keyAesEncrypted)
	aesEncrypted := keyAesEncrypted[32:]
	aesHash := SHA256(aesEncrypted)
	tempKey := make([]byte, 32)
	for i := range tempKey {
		tempKey[i] = keyAesEncrypted[i] ^ aesHash[i]
	}
	withHash, err := IGEDecrypt(aesEncrypted, tempKey, make([]byte, 32))
	if err != nil {
		return nil, err
	}
	withPadding := reversed(withHash[:rsaPadDataLen])
	h := SHA256(tempKey, withPadding)
	if !bytes.Equal(h[:], withHash[rsaPadDataLen:]) {
		return nil, errors.New("rsa_pad hash mismatch")
	}
	return withPadding, nil
}
