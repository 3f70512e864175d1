package output

import "io"

// writeCloser forwards Close to closers in order and reports the first error.
type writeCloser struct {
	io.Writer
	closers []func() error
}

var _ io.WriteCloser = (*writeCloser)(nil)

func withClosers(w io.Writer, closers ...func() error) io.WriteCloser {
	return &writeCloser{Writer: w, closers: closers}
}

func (wc *writeCloser) Close() error {
	var err error
	for _, closer := range wc.closers {
		if e := closer(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
