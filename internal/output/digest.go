package output

import (
	"encoding/hex"
	"hash"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/minio/sha256-simd"
	"github.com/zeebo/blake3"
)

// Digests identify an image.
type Digests struct {
	XXH64  uint64
	SHA256 [32]byte
	BLAKE3 [32]byte
}

func (d Digests) SHA256Hex() string {
	return hex.EncodeToString(d.SHA256[:])
}

func (d Digests) BLAKE3Hex() string {
	return hex.EncodeToString(d.BLAKE3[:])
}

// Digester computes Digests over everything written to it.
type Digester struct {
	xxh    *xxhash.Digest
	sha    hash.Hash
	blake  *blake3.Hasher
	writer io.Writer
}

func NewDigester() *Digester {
	d := &Digester{
		xxh:   xxhash.New(),
		sha:   sha256.New(),
		blake: blake3.New(),
	}
	d.writer = io.MultiWriter(d.xxh, d.sha, d.blake)
	return d
}

func (d *Digester) Write(p []byte) (int, error) {
	return d.writer.Write(p)
}

func (d *Digester) Sum() Digests {
	var out Digests
	out.XXH64 = d.xxh.Sum64()
	copy(out.SHA256[:], d.sha.Sum(nil))
	copy(out.BLAKE3[:], d.blake.Sum(nil))
	return out
}

func ComputeDigests(data []byte) Digests {
	d := NewDigester()
	d.Write(data)
	return d.Sum()
}
