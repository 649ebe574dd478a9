package tgcrypt

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedReader yields the given prefix first, then random bytes.
type fixedReader struct {
	prefix []byte
}

func (r *fixedReader) Read(p []byte) (int, error) {
	if len(r.prefix) > 0 {
		n := copy(p, r.prefix)
		r.prefix = r.prefix[n:]
		return n, nil
	}
	return rand.Read(p)
}

func TestReservedNonce(t *testing.T) {
	var n Nonce
	copy(n[:], []byte{0xee, 0xee, 0xee, 0xee, 1, 2, 3, 4})
	assert.True(t, n.Reserved(), "intermediate tag")
	n = Nonce{}
	n[0] = 1
	assert.True(t, n.Reserved(), "zero bytes 4..8")
	copy(n[:], "GET /ok")
	assert.True(t, n.Reserved(), "http")
	n = Nonce{1, 2, 3, 4, 5, 6, 7, 8}
	assert.False(t, n.Reserved())
}

func TestNewObfuscationSkipsReserved(t *testing.T) {
	reserved := make([]byte, NonceSize)
	reserved[0] = Abridged
	o, err := NewObfuscation(&fixedReader{prefix: reserved}, 2, Intermediate, nil)
	require.NoError(t, err)
	assert.NotEqual(t, byte(Abridged), o.Nonce[0])
	assert.False(t, o.Nonce.Reserved())
}

func TestNewObfuscationReadError(t *testing.T) {
	_, err := NewObfuscation(bytes.NewReader(nil), 2, Intermediate, nil)
	assert.Error(t, err)
}

func testObfuscatedPair(t *testing.T, secret *Secret) {
	t.Helper()
	client, err := NewObfuscation(rand.Reader, -4, Intermediate, secret)
	require.NoError(t, err)
	server, err := AcceptObfuscation(client.Nonce, secret)
	require.NoError(t, err)
	assert.Equal(t, uint8(Intermediate), server.Protocol)
	assert.Equal(t, int16(-4), server.DC)

	msg := []byte("client to server payload")
	buf := append([]byte{}, msg...)
	client.Encrypt(buf)
	assert.NotEqual(t, msg, buf)
	server.Decrypt(buf)
	assert.Equal(t, msg, buf)

	reply := []byte("server reply")
	buf = append([]byte{}, reply...)
	server.Encrypt(buf)
	client.Decrypt(buf)
	assert.Equal(t, reply, buf)
}

func TestObfuscatedDirect(t *testing.T) {
	testObfuscatedPair(t, nil)
}

func TestObfuscatedWithSecret(t *testing.T) {
	secret, err := NewSecretHex("dd000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)
	testObfuscatedPair(t, secret)
}

func TestObfuscatedSecretMismatch(t *testing.T) {
	secret, _ := NewSecretHex("000102030405060708090a0b0c0d0e0f")
	other, _ := NewSecretHex("101112131415161718191a1b1c1d1e1f")
	// a wrong secret decodes garbage, which almost never looks like a valid tag
	for i := 0; i < 3; i++ {
		client, err := NewObfuscation(rand.Reader, 2, Abridged, secret)
		require.NoError(t, err)
		_, err = AcceptObfuscation(client.Nonce, other)
		var herr *ErrObfuscatedHeader
		if errors.As(err, &herr) {
			return
		}
	}
	t.Errorf("nonce accepted with wrong secret")
}
