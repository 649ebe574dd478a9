package tgcrypt

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestIGERoundTrip(t *testing.T) {
	key := randomBytes(t, 32)
	iv := randomBytes(t, 32)
	plain := randomBytes(t, 16*7)
	enc, err := IGEEncrypt(plain, key, iv)
	require.NoError(t, err)
	assert.NotEqual(t, plain, enc)
	dec, err := IGEDecrypt(enc, key, iv)
	require.NoError(t, err)
	assert.Equal(t, plain, dec)
}

func TestIGEPropagates(t *testing.T) {
	key := randomBytes(t, 32)
	iv := randomBytes(t, 32)
	plain := make([]byte, 64)
	enc, _ := IGEEncrypt(plain, key, iv)
	plain[0] = 1
	enc2, _ := IGEEncrypt(plain, key, iv)
	for i := 0; i < 64; i += 16 {
		if bytes.Equal(enc[i:i+16], enc2[i:i+16]) {
			t.Errorf("block %d not affected by change in first block", i/16)
		}
	}
}

func TestIGEMisaligned(t *testing.T) {
	_, err := IGEEncrypt(make([]byte, 17), make([]byte, 32), make([]byte, 32))
	if !errors.Is(err, ErrBlockSize) {
		t.Errorf("misaligned input accepted: %v", err)
	}
	_, err = IGEEncrypt(make([]byte, 16), make([]byte, 32), make([]byte, 16))
	assert.Error(t, err)
}

func TestAuthKeyID(t *testing.T) {
	var k Key
	copy(k[:], randomBytes(t, AuthKeySize))
	h := SHA1(k[:])
	id := k.ID()
	aux := k.AuxHash()
	assert.Equal(t, h[12:20], id[:])
	assert.Equal(t, h[0:8], aux[:])
	ak := k.WithID()
	assert.False(t, ak.Zero())
	assert.True(t, AuthKey{}.Zero())

	_, err := AuthKeyFromBytes(make([]byte, 10))
	assert.Error(t, err)
	back, err := AuthKeyFromBytes(k[:])
	require.NoError(t, err)
	assert.Equal(t, ak, back)
}

func TestMessageKeySides(t *testing.T) {
	var k Key
	copy(k[:], randomBytes(t, AuthKeySize))
	plain := randomBytes(t, 64)
	c := MessageKey(k, plain, Client)
	s := MessageKey(k, plain, Server)
	assert.NotEqual(t, c, s)

	full := SHA256(k[88:120], plain)
	assert.Equal(t, full[8:24], c[:])

	key1, iv1 := MessageKeys(k, c, Client)
	key2, iv2 := MessageKeys(k, c, Server)
	assert.NotEqual(t, key1, key2)
	assert.NotEqual(t, iv1, iv2)
}

func TestFactorize(t *testing.T) {
	p, q, err := Factorize(0x17ED48941A08F981)
	require.NoError(t, err)
	assert.Equal(t, uint64(1229739323), p)
	assert.Equal(t, uint64(1402015859), q)

	p, q, err = Factorize(2 * 65537)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), p)
	assert.Equal(t, uint64(65537), q)

	_, _, err = Factorize(3)
	assert.Error(t, err)
}

func TestRSAPad(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	data := randomBytes(t, 96)
	enc, err := RSAPad(data, &priv.PublicKey, rand.Reader)
	require.NoError(t, err)
	assert.Len(t, enc, 256)
	dec, err := RSADecodePad(enc, priv)
	require.NoError(t, err)
	assert.Equal(t, data, dec[:len(data)])

	_, err = RSAPad(make([]byte, 145), &priv.PublicKey, rand.Reader)
	assert.Error(t, err)
}

func TestPublicKeysPEM(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemData := EncodePublicKey(&priv.PublicKey)
	keys, err := ParsePublicKeys(pemData)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, RSAFingerprint(&priv.PublicKey), keys[0].Fingerprint)
	assert.Equal(t, 0, keys[0].N.Cmp(priv.N))

	_, err = ParsePublicKeys([]byte("garbage"))
	assert.Error(t, err)
}

func TestDHChecks(t *testing.T) {
	p := Group14()
	require.NoError(t, CheckDHParams(p, 2))
	// cached path
	require.NoError(t, CheckDHPrime(p))
	assert.NoError(t, CheckGenerator(3, p))
	assert.Error(t, CheckGenerator(2, big.NewInt(13)))
	assert.Error(t, CheckGenerator(9, p))
	assert.ErrorIs(t, CheckDHPrime(big.NewInt(23)), ErrDHPrime)

	assert.ErrorIs(t, CheckDHValue(big.NewInt(1), p), ErrDHRange)
	assert.ErrorIs(t, CheckDHValue(big.NewInt(12345), p), ErrDHRange)
	top := new(big.Int).Sub(p, big.NewInt(2))
	assert.ErrorIs(t, CheckDHValue(top, p), ErrDHRange)

	a, err := RandomExponent(rand.Reader)
	require.NoError(t, err)
	gA := new(big.Int).Exp(big.NewInt(2), a, p)
	assert.NoError(t, CheckDHValue(gA, p))
}

func TestTempKeysAndAnswer(t *testing.T) {
	var newNonce [32]byte
	var serverNonce [16]byte
	copy(newNonce[:], randomBytes(t, 32))
	copy(serverNonce[:], randomBytes(t, 16))
	key, iv := TempAESKeys(newNonce, serverNonce)
	assert.Equal(t, newNonce[0:4], iv[28:32])

	for _, n := range []int{1, 15, 16, 33, 100} {
		data := randomBytes(t, n)
		enc, err := EncryptWithHash(data, key, iv, rand.Reader)
		require.NoError(t, err)
		assert.Zero(t, len(enc)%16)
		dec, err := DecryptWithHash(enc, key, iv)
		require.NoError(t, err)
		assert.Equal(t, data, dec)
	}

	salt := ServerSalt(newNonce, serverNonce)
	var zero [16]byte
	assert.Equal(t, int64(0), ServerSalt([32]byte{}, zero))
	assert.NotEqual(t, int64(0), salt)
}

func TestNonceHashDiffers(t *testing.T) {
	var k Key
	copy(k[:], randomBytes(t, AuthKeySize))
	var nn [32]byte
	copy(nn[:], randomBytes(t, 32))
	assert.NotEqual(t, NonceHash(nn, 1, k), NonceHash(nn, 2, k))
}

// serverProof mirrors the server side of the password check.
func serverProof(t *testing.T, password []byte, algo PasswordAlgo, answer SRPAnswer, b, gB *big.Int) []byte {
	t.Helper()
	p := new(big.Int).SetBytes(algo.P)
	g := big.NewInt(int64(algo.G))
	v := PasswordVerifier(password, algo)
	gA := new(big.Int).SetBytes(answer.A)
	u := new(big.Int).SetBytes(h256(pad256(gA), pad256(gB)))
	sB := new(big.Int).Exp(new(big.Int).Mul(gA, new(big.Int).Exp(v, u, p)), b, p)
	kB := h256(pad256(sB))
	hp := SHA256(pad256(p))
	hg := SHA256(pad256(g))
	var hpg [32]byte
	for i := range hpg {
		hpg[i] = hp[i] ^ hg[i]
	}
	return h256(hpg[:], h256(algo.Salt1), h256(algo.Salt2), pad256(gA), pad256(gB), kB)
}

func TestSRP(t *testing.T) {
	p := Group14()
	algo := PasswordAlgo{
		Salt1: randomBytes(t, 8),
		Salt2: randomBytes(t, 16),
		G:     2,
		P:     p.Bytes(),
	}
	password := []byte("hunter2")
	g := big.NewInt(2)
	v := PasswordVerifier(password, algo)
	k := new(big.Int).SetBytes(h256(pad256(p), pad256(g)))
	b, err := RandomExponent(rand.Reader)
	require.NoError(t, err)
	gB := new(big.Int).Mod(new(big.Int).Add(new(big.Int).Mul(k, v), new(big.Int).Exp(g, b, p)), p)

	answer, err := SRP(password, algo, gB.Bytes(), rand.Reader)
	require.NoError(t, err)
	assert.Len(t, answer.A, 256)
	assert.Equal(t, serverProof(t, password, algo, answer, b, gB), answer.M1)

	wrong, err := SRP([]byte("hunter3"), algo, gB.Bytes(), rand.Reader)
	require.NoError(t, err)
	assert.NotEqual(t, serverProof(t, password, algo, wrong, b, gB), wrong.M1)
}
