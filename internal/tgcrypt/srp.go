package tgcrypt

import (
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"io"
	"math/big"

	"golang.org/x/crypto/pbkdf2"
)

const srpIterations = 100000

// PasswordAlgo holds the server supplied parameters of
// passwordKdfAlgoSHA256SHA256PBKDF2HMACSHA512iter100000SHA256ModPow.
type PasswordAlgo struct {
	Salt1 []byte
	Salt2 []byte
	G     int
	P     []byte
}

// SRPAnswer is what the client sends back to prove the password.
type SRPAnswer struct {
	A  []byte
	M1 []byte
}

func sh(data, salt []byte) []byte {
	h := SHA256(salt, data, salt)
	return h[:]
}

func h256(parts ...[]byte) []byte {
	h := SHA256(parts...)
	return h[:]
}

func pad256(v *big.Int) []byte {
	out := make([]byte, 256)
	v.FillBytes(out)
	return out
}

// PasswordHash computes PH2 for a two-factor password.
func PasswordHash(password []byte, algo PasswordAlgo) []byte {
	ph1 := sh(sh(password, algo.Salt1), algo.Salt2)
	derived := pbkdf2.Key(ph1, algo.Salt1, srpIterations, sha512.Size, sha512.New)
	return sh(derived, algo.Salt2)
}

// PasswordVerifier returns g^x mod p, the value the server keeps.
func PasswordVerifier(password []byte, algo PasswordAlgo) *big.Int {
	p := new(big.Int).SetBytes(algo.P)
	x := new(big.Int).SetBytes(PasswordHash(password, algo))
	return new(big.Int).Exp(big.NewInt(int64(algo.G)), x, p)
}

// SRP computes the client proof for a password check.
func SRP(password []byte, algo PasswordAlgo, srpB []byte, random io.Reader) (SRPAnswer, error) {
	p := new(big.Int).SetBytes(algo.P)
	if err := CheckDHParams(p, algo.G); err != nil {
		return SRPAnswer{}, err
	}
	gB := new(big.Int).SetBytes(srpB)
	if gB.Sign() <= 0 || gB.Cmp(p) >= 0 {
		return SRPAnswer{}, ErrDHRange
	}
	g := big.NewInt(int64(algo.G))
	gBytes := pad256(g)
	pBytes := pad256(p)
	gBBytes := pad256(gB)

	a, err := RandomExponent(random)
	if err != nil {
		return SRPAnswer{}, err
	}
	gA := new(big.Int).Exp(g, a, p)
	if err := CheckDHValue(gA, p); err != nil {
		return SRPAnswer{}, err
	}
	gABytes := pad256(gA)

	k := new(big.Int).SetBytes(h256(pBytes, gBytes))
	u := new(big.Int).SetBytes(h256(gABytes, gBBytes))
	if u.Sign() == 0 {
		return SRPAnswer{}, errors.New("srp u is zero")
	}
	x := new(big.Int).SetBytes(PasswordHash(password, algo))
	v := new(big.Int).Exp(g, x, p)
	kv := new(big.Int).Mod(new(big.Int).Mul(k, v), p)
	t := new(big.Int).Mod(new(big.Int).Sub(gB, kv), p)
	if t.Sign() < 0 {
		t.Add(t, p)
	}
	exp := new(big.Int).Add(a, new(big.Int).Mul(u, x))
	sA := new(big.Int).Exp(t, exp, p)
	kA := h256(pad256(sA))

	hp := sha256.Sum256(pBytes)
	hg := sha256.Sum256(gBytes)
	var hpg [sha256.Size]byte
	for i := range hpg {
		hpg[i] = hp[i] ^ hg[i]
	}
	m1 := h256(hpg[:], h256(algo.Salt1), h256(algo.Salt2), gABytes, gBBytes, kA)
	return SRPAnswer{A: gABytes, M1: m1}, nil
}
