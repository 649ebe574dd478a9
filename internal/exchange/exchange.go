// Package exchange runs the MTProto key exchange that creates an
// authorization key for a DC.
package exchange

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/geovex/mtcore/internal/mt"
	"github.com/geovex/mtcore/internal/proto"
	"github.com/geovex/mtcore/internal/tgcrypt"
)

var (
	// ErrProofMismatch means the peer answered with values that do not
	// prove knowledge of the exchange state. The exchange has to start over.
	ErrProofMismatch = errors.New("key exchange proof mismatch")
	// ErrUnknownFingerprint means none of the server keys is known.
	ErrUnknownFingerprint = errors.New("no known public key for server fingerprints")
)

// Result of a successful exchange.
type Result struct {
	AuthKey    tgcrypt.AuthKey
	ServerSalt int64
	// TimeOffset is server time minus local time, in seconds.
	TimeOffset int64
}

// Conn is the unencrypted packet channel the exchange runs over.
type Conn interface {
	Send(ctx context.Context, b []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

func writeMsg(ctx context.Context, conn Conn, ids *proto.MsgIDGen, m mt.Message, server bool) error {
	id := ids.New()
	if server {
		id |= 1
	}
	return conn.Send(ctx, proto.EncodePlain(id, mt.Encode(m)))
}

func readMsg(ctx context.Context, conn Conn) (mt.Message, error) {
	b, err := conn.Recv(ctx)
	if err != nil {
		return nil, err
	}
	_, body, err := proto.DecodePlain(b)
	if err != nil {
		return nil, err
	}
	return mt.Decode(body)
}

func unexpected(m mt.Message) error {
	return fmt.Errorf("%w: unexpected %T", ErrProofMismatch, m)
}

func bytesToUint64(b []byte) (uint64, error) {
	if len(b) > 8 {
		return 0, fmt.Errorf("pq of %d bytes", len(b))
	}
	var buf [8]byte
	copy(buf[8-len(b):], b)
	return binary.BigEndian.Uint64(buf[:]), nil
}

func uint64ToBytes(v uint64) []byte {
	return new(big.Int).SetUint64(v).Bytes()
}
