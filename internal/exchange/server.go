package exchange

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/geovex/mtcore/internal/mt"
	"github.com/geovex/mtcore/internal/proto"
	"github.com/geovex/mtcore/internal/tgcrypt"
)

type ServerOptions struct {
	Key   *rsa.PrivateKey
	Prime *big.Int
	G     int
	// WrongProof makes the server answer dh_gen_ok with a bad hash.
	WrongProof bool
	Random     io.Reader
	Clock      proto.Clock
	Logger     *logrus.Logger
}

// Server answers key exchanges. It is the counterpart used by local test DCs.
type Server struct {
	opts        ServerOptions
	fingerprint int64
	log         *logrus.Entry
}

func NewServer(opts ServerOptions) *Server {
	if opts.Random == nil {
		opts.Random = rand.Reader
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Prime == nil {
		opts.Prime = tgcrypt.Group14()
		opts.G = 2
	}
	return &Server{
		opts:        opts,
		fingerprint: tgcrypt.RSAFingerprint(&opts.Key.PublicKey),
		log:         opts.Logger.WithField("side", "server"),
	}
}

// PublicKey returns the key clients need to talk to this server.
func (s *Server) PublicKey() tgcrypt.PublicKey {
	return tgcrypt.NewPublicKey(&s.opts.Key.PublicKey)
}

func (s *Server) randomPQ() (p, q uint64, err error) {
	for {
		a, err := rand.Prime(s.opts.Random, 31)
		if err != nil {
			return 0, 0, err
		}
		b, err := rand.Prime(s.opts.Random, 31)
		if err != nil {
			return 0, 0, err
		}
		p, q = a.Uint64(), b.Uint64()
		if p == q {
			continue
		}
		if p > q {
			p, q = q, p
		}
		return p, q, nil
	}
}

// Serve runs one exchange. first is the already received req_pq_multi
// packet, or nil to read it from conn.
func (s *Server) Serve(ctx context.Context, conn Conn, first []byte) (Result, error) {
	ids := proto.NewMsgIDGen(s.opts.Clock)
	var m mt.Message
	var err error
	if first != nil {
		var body []byte
		if _, body, err = proto.DecodePlain(first); err == nil {
			m, err = mt.Decode(body)
		}
	} else {
		m, err = readMsg(ctx, conn)
	}
	if err != nil {
		return Result{}, err
	}
	req, ok := m.(*mt.ReqPQMulti)
	if !ok {
		return Result{}, unexpected(m)
	}
	nonce := req.Nonce
	var serverNonce [16]byte
	if _, err := io.ReadFull(s.opts.Random, serverNonce[:]); err != nil {
		return Result{}, err
	}
	p, q, err := s.randomPQ()
	if err != nil {
		return Result{}, err
	}
	pq := uint64ToBytes(p * q)
	err = writeMsg(ctx, conn, ids, &mt.ResPQ{
		Nonce:        nonce,
		ServerNonce:  serverNonce,
		PQ:           pq,
		Fingerprints: []int64{s.fingerprint},
	}, true)
	if err != nil {
		return Result{}, err
	}

	m, err = readMsg(ctx, conn)
	if err != nil {
		return Result{}, err
	}
	dhReq, ok := m.(*mt.ReqDHParams)
	if !ok {
		return Result{}, unexpected(m)
	}
	if dhReq.Nonce != nonce || dhReq.ServerNonce != serverNonce {
		return Result{}, fmt.Errorf("%w: req_DH_params nonce", ErrProofMismatch)
	}
	if dhReq.Fingerprint != s.fingerprint {
		return Result{}, fmt.Errorf("%w: %x", ErrUnknownFingerprint, dhReq.Fingerprint)
	}
	padded, err := tgcrypt.RSADecodePad(dhReq.EncryptedData, s.opts.Key)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrProofMismatch, err)
	}
	m, err = mt.Decode(padded)
	if err != nil {
		return Result{}, err
	}
	inner, ok := m.(*mt.PQInnerDataDC)
	if !ok {
		return Result{}, unexpected(m)
	}
	gotP, _ := bytesToUint64(inner.P)
	gotQ, _ := bytesToUint64(inner.Q)
	if gotP != p || gotQ != q || inner.Nonce != nonce || inner.ServerNonce != serverNonce {
		return Result{}, fmt.Errorf("%w: p_q_inner_data", ErrProofMismatch)
	}
	newNonce := inner.NewNonce

	prime := s.opts.Prime
	g := big.NewInt(int64(s.opts.G))
	var a, gA *big.Int
	for {
		if a, err = tgcrypt.RandomExponent(s.opts.Random); err != nil {
			return Result{}, err
		}
		gA = new(big.Int).Exp(g, a, prime)
		if tgcrypt.CheckDHValue(gA, prime) == nil {
			break
		}
	}
	tmpKey, tmpIV := tgcrypt.TempAESKeys(newNonce, serverNonce)
	answer, err := tgcrypt.EncryptWithHash(mt.Encode(&mt.ServerDHInnerData{
		Nonce:       nonce,
		ServerNonce: serverNonce,
		G:           int32(s.opts.G),
		DHPrime:     prime.Bytes(),
		GA:          gA.Bytes(),
		ServerTime:  int32(s.opts.Clock().Unix()),
	}), tmpKey, tmpIV, s.opts.Random)
	if err != nil {
		return Result{}, err
	}
	err = writeMsg(ctx, conn, ids, &mt.ServerDHParamsOK{
		Nonce:           nonce,
		ServerNonce:     serverNonce,
		EncryptedAnswer: answer,
	}, true)
	if err != nil {
		return Result{}, err
	}

	m, err = readMsg(ctx, conn)
	if err != nil {
		return Result{}, err
	}
	set, ok := m.(*mt.SetClientDHParams)
	if !ok {
		return Result{}, unexpected(m)
	}
	data, err := tgcrypt.DecryptWithHash(set.EncryptedData, tmpKey, tmpIV)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrProofMismatch, err)
	}
	m, err = mt.Decode(data)
	if err != nil {
		return Result{}, err
	}
	clientInner, ok := m.(*mt.ClientDHInnerData)
	if !ok {
		return Result{}, unexpected(m)
	}
	gB := new(big.Int).SetBytes(clientInner.GB)
	if err := tgcrypt.CheckDHValue(gB, prime); err != nil {
		return Result{}, fmt.Errorf("g_b: %w", err)
	}
	authKey := tgcrypt.FillKey(new(big.Int).Exp(gB, a, prime))
	hash := tgcrypt.NonceHash(newNonce, 1, authKey)
	if s.opts.WrongProof {
		hash[0] ^= 0xff
	}
	err = writeMsg(ctx, conn, ids, &mt.DHGenOK{
		Nonce:        nonce,
		ServerNonce:  serverNonce,
		NewNonceHash: hash,
	}, true)
	if err != nil {
		return Result{}, err
	}
	result := Result{
		AuthKey:    authKey.WithID(),
		ServerSalt: tgcrypt.ServerSalt(newNonce, serverNonce),
	}
	s.log.WithField("auth_key", result.AuthKey.String()).Debug("auth key created")
	return result, nil
}
