package tgcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

var ErrBlockSize = errors.New("data is not aligned to the aes block size")

// igeMode implements AES-IGE as a cipher.BlockMode. The 32 byte iv holds the
// previous ciphertext block followed by the previous plaintext block.
type igeMode struct {
	b       cipher.Block
	encrypt bool
	prevC   [aes.BlockSize]byte
	prevP   [aes.BlockSize]byte
}

var _ cipher.BlockMode = &igeMode{}

func newIge(key, iv []byte, encrypt bool) (*igeMode, error) {
	if len(iv) != 2*aes.BlockSize {
		return nil, fmt.Errorf("ige iv must be %d bytes, got %d", 2*aes.BlockSize, len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	m := &igeMode{b: block, encrypt: encrypt}
	copy(m.prevC[:], iv[:aes.BlockSize])
	copy(m.prevP[:], iv[aes.BlockSize:])
	return m, nil
}

// NewIGEEncrypter returns a BlockMode that encrypts in AES-IGE mode.
func NewIGEEncrypter(key, iv []byte) (cipher.BlockMode, error) {
	return newIge(key, iv, true)
}

// NewIGEDecrypter returns a BlockMode that decrypts in AES-IGE mode.
func NewIGEDecrypter(key, iv []byte) (cipher.BlockMode, error) {
	return newIge(key, iv, false)
}

func (m *igeMode) BlockSize() int {
	return aes.BlockSize
}

func (m *igeMode) CryptBlocks(dst, src []byte) {
	if len(src)%aes.BlockSize != 0 {
		panic("invalid block size")
	}
	if len(dst) < len(src) {
		panic("output smaller than input")
	}
	var in, tmp [aes.BlockSize]byte
	for off := 0; off < len(src); off += aes.BlockSize {
		copy(in[:], src[off:off+aes.BlockSize])
		if m.encrypt {
			xorBlock(tmp[:], in[:], m.prevC[:])
			m.b.Encrypt(tmp[:], tmp[:])
			xorBlock(tmp[:], tmp[:], m.prevP[:])
			m.prevP = in
			m.prevC = tmp
		} else {
			xorBlock(tmp[:], in[:], m.prevP[:])
			m.b.Decrypt(tmp[:], tmp[:])
			xorBlock(tmp[:], tmp[:], m.prevC[:])
			m.prevC = in
			m.prevP = tmp
		}
		copy(dst[off:], tmp[:])
	}
}

func xorBlock(dst, a, b []byte) {
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}

// IGEEncrypt encrypts a copy of data. data must be block aligned.
func IGEEncrypt(data, key, iv []byte) ([]byte, error) {
	return igeCrypt(data, key, iv, true)
}

// IGEDecrypt decrypts a copy of data. data must be block aligned.
func IGEDecrypt(data, key, iv []byte) ([]byte, error) {
	return igeCrypt(data, key, iv, false)
}

func igeCrypt(data, key, iv []byte, encrypt bool) ([]byte, error) {
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d", ErrBlockSize, len(data))
	}
	m, err := newIge(key, iv, encrypt)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	m.CryptBlocks(out, data)
	return out, nil
}
