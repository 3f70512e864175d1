package manifest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/garethgeorge/banklayout/internal/bankaddr"
	"github.com/garethgeorge/banklayout/internal/registry"
	"github.com/garethgeorge/banklayout/internal/writer"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	magic   = "BLMF"
	version = 1

	trailerSize = 8
)

var (
	ErrBadMagic    = errors.New("not a layout manifest")
	ErrBadVersion  = errors.New("unsupported manifest version")
	ErrBadChecksum = errors.New("manifest checksum mismatch")
	ErrGeometry    = errors.New("manifest geometry does not match")
)

// Field numbers of the manifest message.
const (
	fieldBankSize      protowire.Number = 1
	fieldNumberOfBanks protowire.Number = 2
	fieldFiller        protowire.Number = 3
	fieldAddress       protowire.Number = 4
	fieldBlock         protowire.Number = 5
	fieldSegment       protowire.Number = 6
	fieldXXH64         protowire.Number = 7
	fieldSHA256        protowire.Number = 8
	fieldBLAKE3        protowire.Number = 9
)

// Field numbers shared by the nested messages.
const (
	fieldName     protowire.Number = 1
	fieldBank     protowire.Number = 2 // address entries
	fieldOffset   protowire.Number = 3 // address entries
	fieldStart    protowire.Number = 2 // blocks and segments
	fieldEnd      protowire.Number = 3 // blocks and segments
	fieldChildren protowire.Number = 4 // blocks
	fieldBlank    protowire.Number = 4 // segments
)

// Serialize writes the manifest as a zstd compressed protobuf message framed by a magic, a version
// byte and an xxhash64 trailer over the compressed bytes.
func (m *Manifest) Serialize(w io.Writer) error {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("creating encoder: %w", err)
	}
	defer enc.Close()

	payload := enc.EncodeAll(m.marshal(), nil)

	buf := make([]byte, 0, len(magic)+1+len(payload)+trailerSize)
	buf = append(buf, magic...)
	buf = append(buf, version)
	buf = append(buf, payload...)
	buf = binary.LittleEndian.AppendUint64(buf, xxhash.Sum64(payload))
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// Deserialize replaces m with the manifest read from r.
func (m *Manifest) Deserialize(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}
	if len(data) < len(magic)+1+trailerSize || !bytes.Equal(data[:len(magic)], []byte(magic)) {
		return ErrBadMagic
	}
	if v := data[len(magic)]; v != version {
		return fmt.Errorf("%w: %d", ErrBadVersion, v)
	}
	payload := data[len(magic)+1 : len(data)-trailerSize]
	if sum := binary.LittleEndian.Uint64(data[len(data)-trailerSize:]); sum != xxhash.Sum64(payload) {
		return ErrBadChecksum
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return fmt.Errorf("decompressing manifest: %w", err)
	}

	var out Manifest
	if err := out.unmarshal(raw); err != nil {
		return fmt.Errorf("decoding manifest: %w", err)
	}
	if out.BankSize != bankaddr.BankSize || out.NumberOfBanks != bankaddr.NumberOfBanks {
		return fmt.Errorf("%w: %d banks of 0x%x bytes", ErrGeometry, out.NumberOfBanks, out.BankSize)
	}
	*m = out
	return nil
}

func (m *Manifest) marshal() []byte {
	var b []byte
	b = appendVarintField(b, fieldBankSize, uint64(m.BankSize))
	b = appendVarintField(b, fieldNumberOfBanks, uint64(m.NumberOfBanks))
	b = appendVarintField(b, fieldFiller, uint64(m.Filler))

	for _, e := range m.Addresses {
		var msg []byte
		msg = appendStringField(msg, fieldName, e.ID)
		if bank, ok := e.Address.Bank().Index(); ok {
			msg = appendVarintField(msg, fieldBank, uint64(bank))
		}
		if offset, ok := e.Address.Offset().Value(); ok {
			msg = appendVarintField(msg, fieldOffset, uint64(offset))
		}
		b = appendBytesField(b, fieldAddress, msg)
	}

	for _, blk := range m.Blocks {
		var msg []byte
		msg = appendStringField(msg, fieldName, blk.ID)
		msg = appendVarintField(msg, fieldStart, uint64(blk.Span.Start))
		msg = appendVarintField(msg, fieldEnd, uint64(blk.Span.End))
		for _, child := range blk.Segments {
			msg = appendStringField(msg, fieldChildren, child)
		}
		b = appendBytesField(b, fieldBlock, msg)
	}

	for _, seg := range m.Segments {
		var msg []byte
		msg = appendStringField(msg, fieldName, seg.Name)
		msg = appendVarintField(msg, fieldStart, uint64(seg.Range.Start))
		msg = appendVarintField(msg, fieldEnd, uint64(seg.Range.End))
		if seg.Blank {
			msg = appendVarintField(msg, fieldBlank, protowire.EncodeBool(true))
		}
		b = appendBytesField(b, fieldSegment, msg)
	}

	b = protowire.AppendTag(b, fieldXXH64, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, m.Digests.XXH64)
	b = appendBytesField(b, fieldSHA256, m.Digests.SHA256[:])
	b = appendBytesField(b, fieldBLAKE3, m.Digests.BLAKE3[:])
	return b
}

func (m *Manifest) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldBankSize && typ == protowire.VarintType:
			return consumeInt(b, &m.BankSize)
		case num == fieldNumberOfBanks && typ == protowire.VarintType:
			return consumeInt(b, &m.NumberOfBanks)
		case num == fieldFiller && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.Filler = byte(v)
			return n, protowire.ParseError(n)
		case num == fieldAddress && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			e, err := unmarshalEntry(msg)
			if err != nil {
				return n, err
			}
			m.Addresses = append(m.Addresses, e)
			return n, nil
		case num == fieldBlock && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			blk, err := unmarshalBlock(msg)
			if err != nil {
				return n, err
			}
			m.Blocks = append(m.Blocks, blk)
			return n, nil
		case num == fieldSegment && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			seg, err := unmarshalSegment(msg)
			if err != nil {
				return n, err
			}
			m.Segments = append(m.Segments, seg)
			return n, nil
		case num == fieldXXH64 && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			m.Digests.XXH64 = v
			return n, protowire.ParseError(n)
		case num == fieldSHA256 && typ == protowire.BytesType:
			return consumeDigest(b, m.Digests.SHA256[:])
		case num == fieldBLAKE3 && typ == protowire.BytesType:
			return consumeDigest(b, m.Digests.BLAKE3[:])
		}
		n := protowire.ConsumeFieldValue(num, typ, b)
		return n, protowire.ParseError(n)
	})
}

func unmarshalEntry(b []byte) (registry.Entry, error) {
	var e registry.Entry
	bank, offset := bankaddr.UnassignedBank, bankaddr.UnassignedOffset
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldName && typ == protowire.BytesType:
			return consumeString(b, &e.ID)
		case num == fieldBank && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			var err error
			bank, err = bankaddr.NewBank(int(v))
			return n, err
		case num == fieldOffset && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, protowire.ParseError(n)
			}
			var err error
			offset, err = bankaddr.NewOffset(int(v))
			return n, err
		}
		n := protowire.ConsumeFieldValue(num, typ, b)
		return n, protowire.ParseError(n)
	})
	e.Address = bankaddr.FromParts(bank, offset)
	return e, err
}

func unmarshalBlock(b []byte) (Block, error) {
	var blk Block
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldName && typ == protowire.BytesType:
			return consumeString(b, &blk.ID)
		case num == fieldStart && typ == protowire.VarintType:
			return consumeInt(b, &blk.Span.Start)
		case num == fieldEnd && typ == protowire.VarintType:
			return consumeInt(b, &blk.Span.End)
		case num == fieldChildren && typ == protowire.BytesType:
			var child string
			n, err := consumeString(b, &child)
			blk.Segments = append(blk.Segments, child)
			return n, err
		}
		n := protowire.ConsumeFieldValue(num, typ, b)
		return n, protowire.ParseError(n)
	})
	if err == nil && blk.Span.Start > blk.Span.End {
		err = fmt.Errorf("block %q has an inverted span %v", blk.ID, blk.Span)
	}
	return blk, err
}

func unmarshalSegment(b []byte) (writer.Segment, error) {
	var seg writer.Segment
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldName && typ == protowire.BytesType:
			return consumeString(b, &seg.Name)
		case num == fieldStart && typ == protowire.VarintType:
			return consumeInt(b, &seg.Range.Start)
		case num == fieldEnd && typ == protowire.VarintType:
			return consumeInt(b, &seg.Range.End)
		case num == fieldBlank && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			seg.Blank = protowire.DecodeBool(v)
			return n, protowire.ParseError(n)
		}
		n := protowire.ConsumeFieldValue(num, typ, b)
		return n, protowire.ParseError(n)
	})
	return seg, err
}

// consumeFields calls field for every field in b. field returns the length of the value it
// consumed, negative lengths are protowire errors.
func consumeFields(b []byte, field func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n, err := field(num, typ, b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		b = b[n:]
	}
	return nil
}

func consumeInt(b []byte, out *int) (int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n, protowire.ParseError(n)
	}
	*out = int(v)
	return n, nil
}

func consumeString(b []byte, out *string) (int, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return n, protowire.ParseError(n)
	}
	*out = v
	return n, nil
}

func consumeDigest(b []byte, out []byte) (int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, protowire.ParseError(n)
	}
	if len(v) != len(out) {
		return n, fmt.Errorf("digest is %d bytes, want %d", len(v), len(out))
	}
	copy(out, v)
	return n, nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}
