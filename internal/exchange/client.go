package exchange

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/geovex/mtcore/internal/mt"
	"github.com/geovex/mtcore/internal/proto"
	"github.com/geovex/mtcore/internal/tgcrypt"
)

type ClientOptions struct {
	Keys []tgcrypt.PublicKey
	// DC goes into p_q_inner_data_dc.
	DC     int
	Random io.Reader
	Clock  proto.Clock
	Logger *logrus.Logger
}

// Client performs the client side of one exchange attempt. It holds no state
// worth reusing: a failed attempt is thrown away.
type Client struct {
	conn Conn
	opts ClientOptions
	ids  *proto.MsgIDGen
	log  *logrus.Entry
}

func NewClient(conn Conn, opts ClientOptions) *Client {
	if opts.Random == nil {
		opts.Random = rand.Reader
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Client{
		conn: conn,
		opts: opts,
		ids:  proto.NewMsgIDGen(opts.Clock),
		log:  opts.Logger.WithField("dc", opts.DC),
	}
}

func (c *Client) selectKey(fingerprints []int64) (tgcrypt.PublicKey, error) {
	for _, fp := range fingerprints {
		for _, k := range c.opts.Keys {
			if k.Fingerprint == fp {
				return k, nil
			}
		}
	}
	return tgcrypt.PublicKey{}, fmt.Errorf("%w: %x", ErrUnknownFingerprint, fingerprints)
}

func (c *Client) Run(ctx context.Context) (Result, error) {
	var nonce [16]byte
	if _, err := io.ReadFull(c.opts.Random, nonce[:]); err != nil {
		return Result{}, err
	}
	if err := writeMsg(ctx, c.conn, c.ids, &mt.ReqPQMulti{Nonce: nonce}, false); err != nil {
		return Result{}, err
	}
	m, err := readMsg(ctx, c.conn)
	if err != nil {
		return Result{}, err
	}
	res, ok := m.(*mt.ResPQ)
	if !ok {
		return Result{}, unexpected(m)
	}
	if res.Nonce != nonce {
		return Result{}, fmt.Errorf("%w: resPQ nonce", ErrProofMismatch)
	}
	serverNonce := res.ServerNonce
	key, err := c.selectKey(res.Fingerprints)
	if err != nil {
		return Result{}, err
	}
	pq, err := bytesToUint64(res.PQ)
	if err != nil {
		return Result{}, err
	}
	p, q, err := tgcrypt.Factorize(pq)
	if err != nil {
		return Result{}, err
	}
	c.log.WithField("fingerprint", fmt.Sprintf("%x", key.Fingerprint)).Debug("resPQ received")

	var newNonce [32]byte
	if _, err := io.ReadFull(c.opts.Random, newNonce[:]); err != nil {
		return Result{}, err
	}
	inner := &mt.PQInnerDataDC{
		PQ:          res.PQ,
		P:           uint64ToBytes(p),
		Q:           uint64ToBytes(q),
		Nonce:       nonce,
		ServerNonce: serverNonce,
		NewNonce:    newNonce,
		DC:          int32(c.opts.DC),
	}
	encrypted, err := tgcrypt.RSAPad(mt.Encode(inner), key.PublicKey, c.opts.Random)
	if err != nil {
		return Result{}, err
	}
	err = writeMsg(ctx, c.conn, c.ids, &mt.ReqDHParams{
		Nonce:         nonce,
		ServerNonce:   serverNonce,
		P:             inner.P,
		Q:             inner.Q,
		Fingerprint:   key.Fingerprint,
		EncryptedData: encrypted,
	}, false)
	if err != nil {
		return Result{}, err
	}

	m, err = readMsg(ctx, c.conn)
	if err != nil {
		return Result{}, err
	}
	params, ok := m.(*mt.ServerDHParamsOK)
	if !ok {
		return Result{}, unexpected(m)
	}
	if params.Nonce != nonce || params.ServerNonce != serverNonce {
		return Result{}, fmt.Errorf("%w: server_DH_params nonce", ErrProofMismatch)
	}
	tmpKey, tmpIV := tgcrypt.TempAESKeys(newNonce, serverNonce)
	answer, err := tgcrypt.DecryptWithHash(params.EncryptedAnswer, tmpKey, tmpIV)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrProofMismatch, err)
	}
	m, err = mt.Decode(answer)
	if err != nil {
		return Result{}, err
	}
	dhInner, ok := m.(*mt.ServerDHInnerData)
	if !ok {
		return Result{}, unexpected(m)
	}
	if dhInner.Nonce != nonce || dhInner.ServerNonce != serverNonce {
		return Result{}, fmt.Errorf("%w: server_DH_inner_data nonce", ErrProofMismatch)
	}
	timeOffset := int64(dhInner.ServerTime) - c.opts.Clock().Unix()
	c.ids.SetOffset(timeOffset)

	dhPrime := new(big.Int).SetBytes(dhInner.DHPrime)
	g := int(dhInner.G)
	if err := tgcrypt.CheckDHParams(dhPrime, g); err != nil {
		return Result{}, err
	}
	gA := new(big.Int).SetBytes(dhInner.GA)
	if err := tgcrypt.CheckDHValue(gA, dhPrime); err != nil {
		return Result{}, fmt.Errorf("g_a: %w", err)
	}
	b, err := tgcrypt.RandomExponent(c.opts.Random)
	if err != nil {
		return Result{}, err
	}
	gB := new(big.Int).Exp(big.NewInt(int64(g)), b, dhPrime)
	if err := tgcrypt.CheckDHValue(gB, dhPrime); err != nil {
		return Result{}, fmt.Errorf("g_b: %w", err)
	}
	authKey := tgcrypt.FillKey(new(big.Int).Exp(gA, b, dhPrime))

	clientInner := &mt.ClientDHInnerData{
		Nonce:       nonce,
		ServerNonce: serverNonce,
		GB:          gB.Bytes(),
	}
	encrypted, err = tgcrypt.EncryptWithHash(mt.Encode(clientInner), tmpKey, tmpIV, c.opts.Random)
	if err != nil {
		return Result{}, err
	}
	err = writeMsg(ctx, c.conn, c.ids, &mt.SetClientDHParams{
		Nonce:         nonce,
		ServerNonce:   serverNonce,
		EncryptedData: encrypted,
	}, false)
	if err != nil {
		return Result{}, err
	}

	m, err = readMsg(ctx, c.conn)
	if err != nil {
		return Result{}, err
	}
	switch v := m.(type) {
	case *mt.DHGenOK:
		if v.Nonce != nonce || v.ServerNonce != serverNonce {
			return Result{}, fmt.Errorf("%w: dh_gen_ok nonce", ErrProofMismatch)
		}
		if v.NewNonceHash != tgcrypt.NonceHash(newNonce, 1, authKey) {
			return Result{}, fmt.Errorf("%w: new_nonce_hash1", ErrProofMismatch)
		}
	case *mt.DHGenRetry:
		return Result{}, fmt.Errorf("%w: dh_gen_retry", ErrProofMismatch)
	case *mt.DHGenFail:
		return Result{}, fmt.Errorf("%w: dh_gen_fail", ErrProofMismatch)
	default:
		return Result{}, unexpected(m)
	}
	result := Result{
		AuthKey:    authKey.WithID(),
		ServerSalt: tgcrypt.ServerSalt(newNonce, serverNonce),
		TimeOffset: timeOffset,
	}
	c.log.WithField("auth_key", result.AuthKey.String()).Info("auth key created")
	return result, nil
}
