package output

import (
	"bufio"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// ParallelMultiWriter creates a writer that writes to multiple writers in parallel.
// Uses an internal pipe to each writer to allow parallel writes.
// A writer that fails stops receiving data without holding up the others.
//
// Close must be called to flush everything. It returns the first error of any writer.
func ParallelMultiWriter(writers ...io.Writer) io.WriteCloser {
	if len(writers) == 0 {
		return withClosers(io.Discard)
	}
	if len(writers) == 1 {
		return withClosers(writers[0])
	}

	var eg errgroup.Group
	var pipeWriters []io.Writer
	var pipeClosers []func() error

	for _, w := range writers {
		pr, pw := io.Pipe()
		pipeWriters = append(pipeWriters, pw)
		pipeClosers = append(pipeClosers, pw.Close)
		eg.Go(func() error {
			buffer := make([]byte, DefaultBufioSize)
			_, err := io.CopyBuffer(w, pr, buffer)
			if err != nil {
				// Keep draining so writes to the other pipes are not blocked
				_, _ = io.Copy(io.Discard, pr)
			}
			return err
		})
	}

	bufw := bufio.NewWriterSize(io.MultiWriter(pipeWriters...), DefaultBufioSize)
	closers := append([]func() error{bufw.Flush}, pipeClosers...)
	closers = append(closers, eg.Wait)
	return withClosers(bufw, closers...)
}

// Fanout writes data to every destination in parallel and returns its digests.
func Fanout(data []byte, dests ...Destination) (Digests, error) {
	digester := NewDigester()
	writers := []io.Writer{digester}
	var closers []io.Closer
	for _, dest := range dests {
		wc, err := dest.Open()
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return Digests{}, fmt.Errorf("opening %s: %w", dest.Name(), err)
		}
		writers = append(writers, wc)
		closers = append(closers, wc)
	}

	mw := ParallelMultiWriter(writers...)
	_, writeErr := mw.Write(data)
	closeErr := mw.Close()
	for i, c := range closers {
		if err := c.Close(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("closing %s: %w", dests[i].Name(), err)
		}
	}
	if writeErr != nil {
		return Digests{}, fmt.Errorf("writing image: %w", writeErr)
	}
	if closeErr != nil {
		return Digests{}, fmt.Errorf("writing image: %w", closeErr)
	}
	return digester.Sum(), nil
}
