package mt

import "github.com/geovex/mtcore/internal/bin"

type ReqPQMulti struct {
	Nonce [16]byte
}

func (m *ReqPQMulti) TypeID() uint32 { return ReqPQMultiID }

func (m *ReqPQMulti) Encode(b *bin.Buffer) {
	b.PutID(ReqPQMultiID)
	b.PutInt128(m.Nonce)
}

func (m *ReqPQMulti) decode(b *bin.Buffer) (err error) {
	m.Nonce, err = b.Int128()
	return
}

type ResPQ struct {
	Nonce        [16]byte
	ServerNonce  [16]byte
	PQ           []byte
	Fingerprints []int64
}

func (m *ResPQ) TypeID() uint32 { return ResPQID }

func (m *ResPQ) Encode(b *bin.Buffer) {
	b.PutID(ResPQID)
	b.PutInt128(m.Nonce)
	b.PutInt128(m.ServerNonce)
	b.PutBytes(m.PQ)
	b.PutLongVector(m.Fingerprints)
}

func (m *ResPQ) decode(b *bin.Buffer) (err error) {
	if m.Nonce, err = b.Int128(); err != nil {
		return
	}
	if m.ServerNonce, err = b.Int128(); err != nil {
		return
	}
	if m.PQ, err = b.Bytes(); err != nil {
		return
	}
	m.Fingerprints, err = b.LongVector()
	return
}

type PQInnerDataDC struct {
	PQ          []byte
	P           []byte
	Q           []byte
	Nonce       [16]byte
	ServerNonce [16]byte
	NewNonce    [32]byte
	DC          int32
}

func (m *PQInnerDataDC) TypeID() uint32 { return PQInnerDataDCID }

func (m *PQInnerDataDC) Encode(b *bin.Buffer) {
	b.PutID(PQInnerDataDCID)
	b.PutBytes(m.PQ)
	b.PutBytes(m.P)
	b.PutBytes(m.Q)
	b.PutInt128(m.Nonce)
	b.PutInt128(m.ServerNonce)
	b.PutInt256(m.NewNonce)
	b.PutInt32(m.DC)
}

func (m *PQInnerDataDC) decode(b *bin.Buffer) (err error) {
	if m.PQ, err = b.Bytes(); err != nil {
		return
	}
	if m.P, err = b.Bytes(); err != nil {
		return
	}
	if m.Q, err = b.Bytes(); err != nil {
		return
	}
	if m.Nonce, err = b.Int128(); err != nil {
		return
	}
	if m.ServerNonce, err = b.Int128(); err != nil {
		return
	}
	if m.NewNonce, err = b.Int256(); err != nil {
		return
	}
	m.DC, err = b.Int32()
	return
}

type ReqDHParams struct {
	Nonce         [16]byte
	ServerNonce   [16]byte
	P             []byte
	Q             []byte
	Fingerprint   int64
	EncryptedData []byte
}

func (m *ReqDHParams) TypeID() uint32 { return ReqDHParamsID }

func (m *ReqDHParams) Encode(b *bin.Buffer) {
	b.PutID(ReqDHParamsID)
	b.PutInt128(m.Nonce)
	b.PutInt128(m.ServerNonce)
	b.PutBytes(m.P)
	b.PutBytes(m.Q)
	b.PutLong(m.Fingerprint)
	b.PutBytes(m.EncryptedData)
}

func (m *ReqDHParams) decode(b *bin.Buffer) (err error) {
	if m.Nonce, err = b.Int128(); err != nil {
		return
	}
	if m.ServerNonce, err = b.Int128(); err != nil {
		return
	}
	if m.P, err = b.Bytes(); err != nil {
		return
	}
	if m.Q, err = b.Bytes(); err != nil {
		return
	}
	if m.Fingerprint, err = b.Long(); err != nil {
		return
	}
	m.EncryptedData, err = b.Bytes()
	return
}

type ServerDHParamsFail struct {
	Nonce        [16]byte
	ServerNonce  [16]byte
	NewNonceHash [16]byte
}

func (m *ServerDHParamsFail) TypeID() uint32 { return ServerDHParamsFailID }

func (m *ServerDHParamsFail) Encode(b *bin.Buffer) {
	b.PutID(ServerDHParamsFailID)
	b.PutInt128(m.Nonce)
	b.PutInt128(m.ServerNonce)
	b.PutInt128(m.NewNonceHash)
}

func (m *ServerDHParamsFail) decode(b *bin.Buffer) error {
	return decodeNonces3(b, &m.Nonce, &m.ServerNonce, &m.NewNonceHash)
}

type ServerDHParamsOK struct {
	Nonce           [16]byte
	ServerNonce     [16]byte
	EncryptedAnswer []byte
}

func (m *ServerDHParamsOK) TypeID() uint32 { return ServerDHParamsOKID }

func (m *ServerDHParamsOK) Encode(b *bin.Buffer) {
	b.PutID(ServerDHParamsOKID)
	b.PutInt128(m.Nonce)
	b.PutInt128(m.ServerNonce)
	b.PutBytes(m.EncryptedAnswer)
}

func (m *ServerDHParamsOK) decode(b *bin.Buffer) (err error) {
	if m.Nonce, err = b.Int128(); err != nil {
		return
	}
	if m.ServerNonce, err = b.Int128(); err != nil {
		return
	}
	m.EncryptedAnswer, err = b.Bytes()
	return
}

type ServerDHInnerData struct {
	Nonce       [16]byte
	ServerNonce [16]byte
	G           int32
	DHPrime     []byte
	GA          []byte
	ServerTime  int32
}

func (m *ServerDHInnerData) TypeID() uint32 { return ServerDHInnerDataID }

func (m *ServerDHInnerData) Encode(b *bin.Buffer) {
	b.PutID(ServerDHInnerDataID)
	b.PutInt128(m.Nonce)
	b.PutInt128(m.ServerNonce)
	b.PutInt32(m.G)
	b.PutBytes(m.DHPrime)
	b.PutBytes(m.GA)
	b.PutInt32(m.ServerTime)
}

func (m *ServerDHInnerData) decode(b *bin.Buffer) (err error) {
	if m.Nonce, err = b.Int128(); err != nil {
		return
	}
	if m.ServerNonce, err = b.Int128(); err != nil {
		return
	}
	if m.G, err = b.Int32(); err != nil {
		return
	}
	if m.DHPrime, err = b.Bytes(); err != nil {
		return
	}
	if m.GA, err = b.Bytes(); err != nil {
		return
	}
	m.ServerTime, err = b.Int32()
	return
}

type ClientDHInnerData struct {
	Nonce       [16]byte
	ServerNonce [16]byte
	RetryID     int64
	GB          []byte
}

func (m *ClientDHInnerData) TypeID() uint32 { return ClientDHInnerDataID }

func (m *ClientDHInnerData) Encode(b *bin.Buffer) {
	b.PutID(ClientDHInnerDataID)
	b.PutInt128(m.Nonce)
	b.PutInt128(m.ServerNonce)
	b.PutLong(m.RetryID)
	b.PutBytes(m.GB)
}

func (m *ClientDHInnerData) decode(b *bin.Buffer) (err error) {
	if m.Nonce, err = b.Int128(); err != nil {
		return
	}
	if m.ServerNonce, err = b.Int128(); err != nil {
		return
	}
	if m.RetryID, err = b.Long(); err != nil {
		return
	}
	m.GB, err = b.Bytes()
	return
}

type SetClientDHParams struct {
	Nonce         [16]byte
	ServerNonce   [16]byte
	EncryptedData []byte
}

func (m *SetClientDHParams) TypeID() uint32 { return SetClientDHParamsID }

func (m *SetClientDHParams) Encode(b *bin.Buffer) {
	b.PutID(SetClientDHParamsID)
	b.PutInt128(m.Nonce)
	b.PutInt128(m.ServerNonce)
	b.PutBytes(m.EncryptedData)
}

func (m *SetClientDHParams) decode(b *bin.Buffer) (err error) {
	if m.Nonce, err = b.Int128(); err != nil {
		return
	}
	if m.ServerNonce, err = b.Int128(); err != nil {
		return
	}
	m.EncryptedData, err = b.Bytes()
	return
}

// DHGenOK, DHGenRetry and DHGenFail answer set_client_DH_params.
type DHGenOK struct {
	Nonce        [16]byte
	ServerNonce  [16]byte
	NewNonceHash [16]byte
}

func (m *DHGenOK) TypeID() uint32 { return DHGenOKID }

func (m *DHGenOK) Encode(b *bin.Buffer) {
	encodeNonces3(b, DHGenOKID, m.Nonce, m.ServerNonce, m.NewNonceHash)
}

func (m *DHGenOK) decode(b *bin.Buffer) error {
	return decodeNonces3(b, &m.Nonce, &m.ServerNonce, &m.NewNonceHash)
}

type DHGenRetry struct {
	Nonce        [16]byte
	ServerNonce  [16]byte
	NewNonceHash [16]byte
}

func (m *DHGenRetry) TypeID() uint32 { return DHGenRetryID }

func (m *DHGenRetry) Encode(b *bin.Buffer) {
	encodeNonces3(b, DHGenRetryID, m.Nonce, m.ServerNonce, m.NewNonceHash)
}

func (m *DHGenRetry) decode(b *bin.Buffer) error {
	return decodeNonces3(b, &m.Nonce, &m.ServerNonce, &m.NewNonceHash)
}

type DHGenFail struct {
	Nonce        [16]byte
	ServerNonce  [16]byte
	NewNonceHash [16]byte
}

func (m *DHGenFail) TypeID() uint32 { return DHGenFailID }

func (m *DHGenFail) Encode(b *bin.Buffer) {
	encodeNonces3(b, DHGenFailID, m.Nonce, m.ServerNonce, m.NewNonceHash)
}

func (m *DHGenFail) decode(b *bin.Buffer) error {
	return decodeNonces3(b, &m.Nonce, &m.ServerNonce, &m.NewNonceHash)
}

func encodeNonces3(b *bin.Buffer, id uint32, a, c, d [16]byte) {
	b.PutID(id)
	b.PutInt128(a)
	b.PutInt128(c)
	b.PutInt128(d)
}

func decodeNonces3(b *bin.Buffer, a, c, d *[16]byte) (err error) {
	if *a, err = b.Int128(); err != nil {
		return
	}
	if *c, err = b.Int128(); err != nil {
		return
	}
	*d, err = b.Int128()
	return
}
