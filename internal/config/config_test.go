package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/garethgeorge/banklayout/internal/bankaddr"
	"github.com/garethgeorge/banklayout/internal/layout"
	"github.com/garethgeorge/banklayout/internal/writer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleLayout = `
filler: 0x00
blank:
  - start: 0x0
    end: 0x10
outputs:
  - path: out/rom.bin
  - path: out/rom.bin.zst
    compress: true
manifest: out/rom.manifest
blocks:
  - id: reset
    address: {bank: 0, offset: 0x10}
    data: "78 D8 A2 FF"
  - id: gfx
    file: gfx.chr
    banks: [5]
  - id: table
    banks: [1]
    limit: within_bank
    segments:
      - id: table.lo
        data: "01"
      - id: table.ptrs
        parts:
          - ref: reset
          - ref: gfx
`

func TestParse(t *testing.T) {
	t.Parallel()
	l, err := Parse(strings.NewReader(exampleLayout), "/layouts")
	require.NoError(t, err)

	assert.Equal(t, byte(0), l.FillerByte())
	assert.Equal(t, []Range{{Start: 0, End: 0x10}}, l.Blank)
	assert.Len(t, l.Blocks, 3)
	assert.Equal(t, &Address{Bank: 0, Offset: 0x10}, l.Blocks[0].Address)
	assert.Equal(t, "78 D8 A2 FF", l.Blocks[0].Data)
	assert.Equal(t, []int{5}, l.Blocks[1].Banks)
	assert.Len(t, l.Blocks[2].Segments, 2)

	dests := l.Destinations()
	require.Len(t, dests, 2)
	assert.Equal(t, "/layouts/out/rom.bin", dests[0].Name())
	assert.Equal(t, "zstd+/layouts/out/rom.bin.zst", dests[1].Name())
	assert.Equal(t, "/layouts/out/rom.manifest", l.ManifestPath())
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "blocks: []\nbogus: 1\n", "bogus"},
		{"missing id", "blocks:\n  - data: '00'\n", "has no id"},
		{"two sources", "blocks:\n  - id: a\n    data: '00'\n    ref: b\n", "only one of"},
		{"bad limit", "blocks:\n  - id: a\n    limit: sideways\n", "unknown limit"},
		{"address and banks", "blocks:\n  - id: a\n    banks: [1]\n    address: {bank: 1, offset: 0}\n", "exclusive"},
		{"segment bytes", "blocks:\n  - id: a\n    data: '00'\n    segments:\n      - id: b\n", "segmented blocks"},
		{"filler", "filler: 256\nblocks: []\n", "not a byte"},
		{"blank range", "blank:\n  - start: 0x10\n    end: 0x0\nblocks: []\n", "not inside"},
		{"empty part", "blocks:\n  - id: a\n    parts:\n      - {}\n", "exactly one"},
		{"unknown ref", "blocks:\n  - id: a\n    ref: nowhere\n", `unknown reference "nowhere"`},
		{"unknown ref in segment", "blocks:\n  - id: a\n    segments:\n      - id: a.lo\n        parts:\n          - ref: a.hi\n", `segment "a.lo": unknown reference "a.hi"`},
		{"reuse without segments", "blocks:\n  - id: a\n    data: '00'\n    reuse:\n      - {start: 0, end: 1}\n", "only supported on segmented"},
		{"reuse range", "blocks:\n  - id: a\n    reuse:\n      - {start: 0, end: 0x200000}\n    segments:\n      - id: b\n", "not inside"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.yaml), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseLimit(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]bankaddr.LimitType{
		"":                             bankaddr.WithinBankOrStartOfNext,
		"within_bank_or_start_of_next": bankaddr.WithinBankOrStartOfNext,
		"WITHIN_BANK":                  bankaddr.WithinBank,
		"in_valid_ranges":              bankaddr.InValidRanges,
	} {
		got, err := ParseLimit(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestDecodeHex(t *testing.T) {
	t.Parallel()
	got, err := DecodeHex(" de ad\n be EF ")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, got)

	_, err = DecodeHex("abc")
	assert.Error(t, err)
}

func TestLoadAndBuild(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "layout.yaml"), []byte(exampleLayout), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gfx.chr"), []byte{0xC0, 0xFF, 0xEE}, 0o644))

	l, err := Load(filepath.Join(dir, "layout.yaml"))
	require.NoError(t, err)
	assert.Equal(t, dir, l.Dir)

	lay, err := layout.New(l.LayoutOptions()...)
	require.NoError(t, err)
	require.NoError(t, l.AddBlocks(lay))
	require.NoError(t, lay.Place(context.Background()))

	imgOpts, err := l.ImageOptions()
	require.NoError(t, err)
	img := writer.NewImage(imgOpts...)
	require.NoError(t, lay.Write(img))
	data := img.Bytes()

	assert.Equal(t, []byte{0x78, 0xD8, 0xA2, 0xFF}, data[0x10:0x14])
	assert.Equal(t, []byte{0xC0, 0xFF, 0xEE}, data[0x14000:0x14003])
	// table.lo, then a near pointer to the home bank and a far pointer to bank 5
	assert.Equal(t, []byte{0x01, 0x10, 0x00, 0x05, 0x00, 0x40}, data[0x4000:0x4006])
}

const reuseLayout = `
blocks:
  - id: table
    address: {bank: 1, offset: 0}
    segments:
      - id: table.data
        data: "01 02 03 04"
`

func TestAddBlocks_Reuse(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name  string
		reuse string
		want  error
	}{
		{"without reuse", "", writer.ErrOverwrite},
		{"with reuse", "    reuse:\n      - {start: 0x4000, end: 0x4004}\n", nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l, err := Parse(strings.NewReader(reuseLayout+tc.reuse), "")
			require.NoError(t, err)
			lay, err := layout.New()
			require.NoError(t, err)
			require.NoError(t, l.AddBlocks(lay))
			require.NoError(t, lay.Place(context.Background()))

			// Something outside the layout already wrote the bytes the table lands on
			img := writer.NewImage()
			require.NoError(t, img.StartNewBlock(bankaddr.MustNew(1, 0)))
			require.NoError(t, img.Append([]byte{9, 9, 9, 9}))

			err = lay.Write(img)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []byte{1, 2, 3, 4}, img.Bytes()[0x4000:0x4004])
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	l, err := Parse(strings.NewReader("blocks:\n  - id: a\n    file: nope.bin\n"), t.TempDir())
	require.NoError(t, err)
	lay, err := layout.New()
	require.NoError(t, err)
	assert.ErrorIs(t, l.AddBlocks(lay), os.ErrNotExist)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
