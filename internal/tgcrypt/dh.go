package tgcrypt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
)

const dhPrimeBits = 2048

var (
	ErrDHPrime = errors.New("dh prime is not a 2048 bit safe prime")
	ErrDHG     = errors.New("dh generator does not match the prime")
	ErrDHRange = errors.New("dh value out of the allowed range")
)

// primes that already passed CheckDHPrime; the check is expensive
var checkedPrimes sync.Map

// CheckDHPrime verifies p is a 2048 bit safe prime.
func CheckDHPrime(p *big.Int) error {
	if p.BitLen() != dhPrimeBits {
		return fmt.Errorf("%w: %d bits", ErrDHPrime, p.BitLen())
	}
	key := p.Text(16)
	if _, ok := checkedPrimes.Load(key); ok {
		return nil
	}
	if !p.ProbablyPrime(20) {
		return ErrDHPrime
	}
	half := new(big.Int).Rsh(new(big.Int).Sub(p, big.NewInt(1)), 1)
	if !half.ProbablyPrime(20) {
		return ErrDHPrime
	}
	checkedPrimes.Store(key, struct{}{})
	return nil
}

// CheckGenerator verifies that g generates a cyclic subgroup of prime order
// (p-1)/2.
func CheckGenerator(g int, p *big.Int) error {
	mod := func(m int64) int64 {
		return new(big.Int).Mod(p, big.NewInt(m)).Int64()
	}
	ok := false
	switch g {
	case 2:
		ok = mod(8) == 7
	case 3:
		ok = mod(3) == 2
	case 4:
		ok = true
	case 5:
		r := mod(5)
		ok = r == 1 || r == 4
	case 6:
		r := mod(24)
		ok = r == 19 || r == 23
	case 7:
		r := mod(7)
		ok = r == 3 || r == 5 || r == 6
	}
	if !ok {
		return fmt.Errorf("%w: g=%d", ErrDHG, g)
	}
	return nil
}

// CheckDHParams runs both the generator and the prime checks.
func CheckDHParams(p *big.Int, g int) error {
	if err := CheckGenerator(g, p); err != nil {
		return err
	}
	return CheckDHPrime(p)
}

// CheckDHValue verifies 1 < v < p-1 and that v lies between 2^{2048-64} and
// p - 2^{2048-64}.
func CheckDHValue(v, p *big.Int) error {
	one := big.NewInt(1)
	pMinusOne := new(big.Int).Sub(p, one)
	if v.Cmp(one) <= 0 || v.Cmp(pMinusOne) >= 0 {
		return ErrDHRange
	}
	safety := new(big.Int).Lsh(one, dhPrimeBits-64)
	if v.Cmp(safety) < 0 || v.Cmp(new(big.Int).Sub(p, safety)) > 0 {
		return ErrDHRange
	}
	return nil
}

// RandomExponent reads a 2048 bit secret exponent.
func RandomExponent(random io.Reader) (*big.Int, error) {
	buf := make([]byte, dhPrimeBits/8)
	if _, err := io.ReadFull(random, buf); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(buf), nil
}

// FillKey writes a DH result left padded into a Key.
func FillKey(v *big.Int) (k Key) {
	v.FillBytes(k[:])
	return
}

// TempAESKeys derives tmp_aes_key and tmp_aes_iv for server_DH_inner_data
// and client_DH_inner_data.
func TempAESKeys(newNonce [32]byte, serverNonce [16]byte) (key, iv [32]byte) {
	a := SHA1(newNonce[:], serverNonce[:])
	b := SHA1(serverNonce[:], newNonce[:])
	c := SHA1(newNonce[:], newNonce[:])

	copy(key[0:20], a[:])
	copy(key[20:32], b[0:12])

	copy(iv[0:8], b[12:20])
	copy(iv[8:28], c[:])
	copy(iv[28:32], newNonce[0:4])
	return
}

// NonceHash computes new_nonce_hash1..3: the lower 128 bits of
// SHA1(new_nonce + n + auth_key_aux_hash).
func NonceHash(newNonce [32]byte, n byte, k Key) (h [16]byte) {
	aux := k.AuxHash()
	full := SHA1(newNonce[:], []byte{n}, aux[:])
	copy(h[:], full[4:20])
	return
}

// ServerSalt is substr(new_nonce, 0, 8) XOR substr(server_nonce, 0, 8).
func ServerSalt(newNonce [32]byte, serverNonce [16]byte) int64 {
	var s [8]byte
	for i := range s {
		s[i] = newNonce[i] ^ serverNonce[i]
	}
	return int64(binary.LittleEndian.Uint64(s[:]))
}

// EncryptWithHash builds SHA1(data) + data + random padding to a block
// multiple and encrypts it with AES-IGE.
func EncryptWithHash(data []byte, key, iv [32]byte, random io.Reader) ([]byte, error) {
	h := SHA1(data)
	plain := make([]byte, 0, len(h)+len(data)+16)
	plain = append(plain, h[:]...)
	plain = append(plain, data...)
	if rem := len(plain) % 16; rem != 0 {
		pad := make([]byte, 16-rem)
		if _, err := io.ReadFull(random, pad); err != nil {
			return nil, err
		}
		plain = append(plain, pad...)
	}
	return IGEEncrypt(plain, key[:], iv[:])
}

// DecryptWithHash decrypts an answer produced by EncryptWithHash. The data
// length is unknown, so every padding length is tried against the hash.
func DecryptWithHash(encrypted []byte, key, iv [32]byte) ([]byte, error) {
	plain, err := IGEDecrypt(encrypted, key[:], iv[:])
	if err != nil {
		return nil, err
	}
	if len(plain) < 20 {
		return nil, errors.New("answer too short")
	}
	body := plain[20:]
	for pad := 0; pad < 16 && pad <= len(body); pad++ {
		data := body[:len(body)-pad]
		h := SHA1(data)
		if string(h[:]) == string(plain[:20]) {
			return data, nil
		}
	}
	return nil, errors.New("answer hash mismatch")
}

// Group14Prime is the 2048 bit MODP prime from RFC 3526. It satisfies every
// check above with g = 2 and is handy for local DCs.
const Group14Prime = "" +
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
	"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
	"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
	"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
	"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
	"15728E5A8AACAA68FFFFFFFFFFFFFFFF"

// Group14 parses Group14Prime.
func Group14() *big.Int {
	p, _ := new(big.Int).SetString(Group14Prime, 16)
	return p
}
