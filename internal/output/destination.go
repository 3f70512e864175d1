package output

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const DefaultBufioSize = 64 * 1024 // 64KB

// Destination is somewhere a finished image is written to.
type Destination interface {
	Open() (io.WriteCloser, error)
	Name() string
}

type fileDestination struct {
	path string
}

// File writes to path, creating parent directories as needed.
func File(path string) Destination {
	return &fileDestination{path: path}
}

func (f *fileDestination) Name() string {
	return f.path
}

func (f *fileDestination) Open() (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return nil, err
	}
	fh, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	bufw := bufio.NewWriterSize(fh, DefaultBufioSize)
	return withClosers(bufw, bufw.Flush, fh.Close), nil
}

type compressedDestination struct {
	base Destination
}

// Compressed zstd compresses everything written to base.
func Compressed(base Destination) Destination {
	return &compressedDestination{base: base}
}

func (c *compressedDestination) Name() string {
	return "zstd+" + c.base.Name()
}

func (c *compressedDestination) Open() (io.WriteCloser, error) {
	baseWriter, err := c.base.Open()
	if err != nil {
		return nil, err
	}
	zstdWriter, err := zstd.NewWriter(
		baseWriter,
		zstd.WithEncoderCRC(true),
		zstd.WithEncoderConcurrency(2),
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		baseWriter.Close()
		return nil, err
	}
	return withClosers(zstdWriter, zstdWriter.Close, baseWriter.Close), nil
}

// Decompress reads what a Compressed destination wrote.
func Decompress(r io.Reader) ([]byte, error) {
	zstdReader, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zstdReader.Close()
	return io.ReadAll(zstdReader)
}

// Memory keeps the image in memory, mostly for tests.
type Memory struct {
	buf bytes.Buffer
}

var _ Destination = (*Memory)(nil)

func (m *Memory) Name() string {
	return "inmemory"
}

func (m *Memory) Open() (io.WriteCloser, error) {
	m.buf.Reset()
	return withClosers(&m.buf), nil
}

func (m *Memory) Bytes() []byte {
	return m.buf.Bytes()
}
