package ioutil2

import "io"

type ReaderFunc func(p []byte) (n int, err error)
type WriterFunc func(p []byte) (n int, err error)
type CloserFunc func() error

func (f ReaderFunc) Read(p []byte) (int, error)  { return f(p) }
func (f WriterFunc) Write(p []byte) (int, error) { return f(p) }
func (f CloserFunc) Close() error                { return f() }

// NopCloser may be embedded to any struct to implement io.Closer doing nothing on close.
type NopCloser struct{}

func (NopCloser) Close() error { return nil }

// ReadWriteCloser joins separate read and write sides into io.ReadWriteCloser,
// so stream can run over source and sink pair.
// Close closes both sides, and returns first error.
type ReadWriteCloser struct {
	io.ReadCloser
	io.WriteCloser
}

var _ io.ReadWriteCloser = ReadWriteCloser{}

func (rwc ReadWriteCloser) Close() error {
	rerr := rwc.ReadCloser.Close()
	werr := rwc.WriteCloser.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}
