package stream

import (
	"io"
	"sync"
)

const defaultChunkSize = 4096

type readerSource struct {
	body io.ReadCloser
	buf  []byte
	err  error

	once     sync.Once
	closeErr error
}

// NewReaderSource turns a response body into a Source that yields at most
// size bytes per chunk.
func NewReaderSource(body io.ReadCloser, size int) Source {
	if size <= 0 {
		size = defaultChunkSize
	}
	return &readerSource{body: body, buf: make([]byte, size)}
}

func (r *readerSource) Next() ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	for {
		n, err := r.body.Read(r.buf)
		if err != nil {
			r.err = err
		}
		if n > 0 {
			// Callers may hold on to the chunk past the next read
			return append([]byte(nil), r.buf[:n]...), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (r *readerSource) Close() error {
	r.once.Do(func() {
		r.closeErr = r.body.Close()
	})
	return r.closeErr
}
