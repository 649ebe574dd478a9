package transport

import (
	"io"
	"sync"

	"github.com/geovex/mtcore/internal/tgcrypt"
)

// dataStream is a socket that knows what to send before the first packet.
type dataStream interface {
	io.ReadWriteCloser
	Initiate() error
}

// rawStream sends the plain protocol tag.
type rawStream struct {
	w      sync.Mutex
	header []byte
	stream io.ReadWriteCloser
}

func newRawStream(stream io.ReadWriteCloser, header []byte) *rawStream {
	return &rawStream{
		stream: stream,
		header: header,
	}
}

func (s *rawStream) Initiate() error {
	s.w.Lock()
	defer s.w.Unlock()
	if len(s.header) == 0 {
		return nil
	}
	_, err := s.stream.Write(s.header)
	s.header = nil
	return err
}

func (s *rawStream) Read(p []byte) (int, error) {
	return s.stream.Read(p)
}

func (s *rawStream) Write(p []byte) (int, error) {
	s.w.Lock()
	defer s.w.Unlock()
	return s.stream.Write(p)
}

func (s *rawStream) Close() error {
	return s.stream.Close()
}

// obfuscatedStream runs every byte after the nonce through AES-CTR.
type obfuscatedStream struct {
	r, w   sync.Mutex
	stream io.ReadWriteCloser
	nonce  *tgcrypt.Nonce
	obf    *tgcrypt.Obfuscation
}

// newObfuscatedStream sends nonce first when it is set, the accepting side
// passes nil.
func newObfuscatedStream(stream io.ReadWriteCloser, obf *tgcrypt.Obfuscation, nonce *tgcrypt.Nonce) *obfuscatedStream {
	return &obfuscatedStream{
		stream: stream,
		nonce:  nonce,
		obf:    obf,
	}
}

func (s *obfuscatedStream) Initiate() error {
	s.w.Lock()
	defer s.w.Unlock()
	if s.nonce == nil {
		return nil
	}
	_, err := s.stream.Write(s.nonce[:])
	s.nonce = nil
	return err
}

func (s *obfuscatedStream) Read(p []byte) (n int, err error) {
	s.r.Lock()
	defer s.r.Unlock()
	n, err = s.stream.Read(p)
	s.obf.Decrypt(p[:n])
	return
}

func (s *obfuscatedStream) Write(p []byte) (n int, err error) {
	s.w.Lock()
	defer s.w.Unlock()
	newbuf := make([]byte, len(p))
	copy(newbuf, p)
	s.obf.Encrypt(newbuf)
	return s.stream.Write(newbuf)
}

func (s *obfuscatedStream) Close() error {
	return s.stream.Close()
}
