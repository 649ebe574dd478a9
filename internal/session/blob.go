package session

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/geovex/mtcore/internal/tgcrypt"
)

// Version of the blob layout written by Marshal.
const Version = 1

type blobDC struct {
	ID         int    `cbor:"id"`
	Addr       string `cbor:"addr"`
	AuthKey    []byte `cbor:"auth_key,omitempty"`
	Salt       int64  `cbor:"salt"`
	TimeOffset int64  `cbor:"time_offset"`
}

type blob struct {
	Version   int      `cbor:"version"`
	PrimaryDC int      `cbor:"primary_dc"`
	DCs       []blobDC `cbor:"dcs"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("session: CBOR encoder initialization failed: " + err.Error())
	}
}

// Marshal serializes the session.
func (s *Session) Marshal() ([]byte, error) {
	s.mu.RLock()
	b := blob{Version: Version, PrimaryDC: s.primary}
	s.mu.RUnlock()
	for _, id := range s.DCs() {
		st, _ := s.DC(id)
		d := blobDC{
			ID:         st.ID,
			Addr:       st.Addr,
			Salt:       st.Salt,
			TimeOffset: st.TimeOffset,
		}
		if !st.AuthKey.Zero() {
			d.AuthKey = append([]byte{}, st.AuthKey.Value[:]...)
		}
		b.DCs = append(b.DCs, d)
	}
	return encMode.Marshal(b)
}

// Unmarshal restores a session written by Marshal.
func Unmarshal(data []byte) (*Session, error) {
	var b blob
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if b.Version != Version {
		return nil, fmt.Errorf("unsupported session version %d", b.Version)
	}
	s := New(b.PrimaryDC)
	for _, d := range b.DCs {
		key, err := tgcrypt.AuthKeyFromBytes(d.AuthKey)
		if err != nil {
			return nil, fmt.Errorf("dc %d: %w", d.ID, err)
		}
		if err := s.SetAuthKey(d.ID, d.Addr, key, d.Salt, d.TimeOffset); err != nil {
			return nil, err
		}
	}
	return s, nil
}
