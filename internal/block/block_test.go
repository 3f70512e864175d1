package block

import (
	"fmt"
	"testing"

	"github.com/garethgeorge/banklayout/internal/bankaddr"
	"github.com/garethgeorge/banklayout/internal/registry"
	"github.com/garethgeorge/banklayout/internal/writer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingWriter logs the calls a block makes on its sink.
type recordingWriter struct {
	name  string
	calls []string
}

func (w *recordingWriter) Append(data []byte) error {
	w.calls = append(w.calls, fmt.Sprintf("append %d", len(data)))
	return nil
}

func (w *recordingWriter) CurrentBlockName() string {
	return w.name
}

func (w *recordingWriter) StartNewBlock(addr bankaddr.BankAddress, opts ...writer.BlockOption) error {
	if o := writer.ApplyBlockOptions(opts...); o.SegmentName != "" {
		w.name = o.SegmentName
	}
	global, ok := addr.Global()
	if !ok {
		return bankaddr.ErrInvalidAddress
	}
	w.calls = append(w.calls, fmt.Sprintf("start %s@0x%x", w.name, global))
	return nil
}

func (w *recordingWriter) BlankUnusedSpace(r bankaddr.AddressRange) error {
	w.calls = append(w.calls, "blank "+r.String())
	return nil
}

// shrinking reserves worst bytes but encodes only actual.
type shrinking struct {
	worst, actual int
}

func (s shrinking) WorstCaseSize(bankaddr.BankAddress, *registry.AssignedAddresses) int {
	return s.worst
}

func (s shrinking) Encode(bankaddr.BankAddress, *registry.AssignedAddresses) ([]byte, error) {
	out := make([]byte, s.actual)
	for i := range out {
		out[i] = byte(i + 1)
	}
	return out, nil
}

func mustGlobal(t *testing.T, global int) bankaddr.BankAddress {
	t.Helper()
	addr, err := bankaddr.FromGlobal(global)
	require.NoError(t, err)
	return addr
}

func TestBlock_AddAllIDs(t *testing.T) {
	t.Parallel()
	used := map[string]struct{}{}

	require.NoError(t, New("a", Bytes{1}).AddAllIDs(used))
	assert.ErrorIs(t, New("a", Bytes{1}).AddAllIDs(used), ErrDuplicateID)

	seg := NewSegmented("b", []*Segment{NewSegment("b.0", Bytes{1}), NewSegment("b.1", Bytes{1})})
	require.NoError(t, seg.AddAllIDs(used))
	assert.Len(t, used, 4)

	clash := NewSegmented("c", []*Segment{NewSegment("b.1", Bytes{1})})
	assert.ErrorIs(t, clash.AddAllIDs(used), ErrDuplicateID)
	_, added := used["c"]
	assert.False(t, added, "nothing is added when any id clashes")

	self := NewSegmented("d", []*Segment{NewSegment("d", Bytes{1})})
	assert.ErrorIs(t, self.AddAllIDs(map[string]struct{}{}), ErrDuplicateID)
}

func TestBlock_AssignAddresses(t *testing.T) {
	t.Parallel()
	start := bankaddr.MustNew(3, 0x3FFA)
	payload := Bytes(make([]byte, 10))

	testCases := []struct {
		name     string
		limit    bankaddr.LimitType
		start    bankaddr.BankAddress
		wantOK   bool
		wantNext bankaddr.BankAddress
	}{
		{"crossing within bank", bankaddr.WithinBank, start, false, bankaddr.Unassigned},
		{"crossing in valid ranges", bankaddr.InValidRanges, start, true, bankaddr.MustNew(4, 4)},
		{"crossing within bank or start of next", bankaddr.WithinBankOrStartOfNext, start, false, bankaddr.Unassigned},
		{"ending at bank end", bankaddr.WithinBankOrStartOfNext, bankaddr.MustNew(3, 0x3FF6), true, bankaddr.MustNew(4, 0)},
		{"ending at bank end within bank", bankaddr.WithinBank, bankaddr.MustNew(3, 0x3FF6), false, bankaddr.Unassigned},
		{"fits in bank", bankaddr.WithinBank, bankaddr.MustNew(3, 0x100), true, bankaddr.MustNew(3, 0x10A)},
		{"past the last bank", bankaddr.InValidRanges, bankaddr.MustNew(bankaddr.NumberOfBanks-1, 0x3FFA), false, bankaddr.Unassigned},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reg := registry.New()
			b := New("a", payload, WithLimit(tc.limit))
			assert.Equal(t, 10, b.WorstCaseSize(reg))
			b.AssignBank(tc.start.Bank(), reg)

			next, ok := b.AssignAddresses(tc.start, reg)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantNext, next)
			if ok {
				got, _ := reg.Get("a")
				assert.Equal(t, tc.start, got)
			}

			b.RemoveAddresses(reg)
			_, present := reg.Get("a")
			assert.False(t, present)
		})
	}
}

func TestBlock_AssignAddressesOtherBank(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	b := New("a", Bytes{1, 2})
	b.AssignBank(bankaddr.MustBank(2), reg)

	_, ok := b.AssignAddresses(bankaddr.MustNew(3, 0), reg)
	assert.False(t, ok)
	_, ok = b.AssignAddresses(bankaddr.FromParts(bankaddr.MustBank(2), bankaddr.UnassignedOffset), reg)
	assert.False(t, ok)
	next, ok := b.AssignAddresses(bankaddr.MustNew(2, 0), reg)
	assert.True(t, ok)
	assert.Equal(t, bankaddr.MustNew(2, 2), next)
}

func TestBlock_Write(t *testing.T) {
	t.Parallel()

	t.Run("writes at its address", func(t *testing.T) {
		reg := registry.New()
		img := writer.NewImage()
		b := New("a", Bytes{0xDE, 0xAD})
		b.AssignBank(bankaddr.MustBank(1), reg)
		_, ok := b.AssignAddresses(bankaddr.MustNew(1, 0x20), reg)
		require.True(t, ok)

		require.NoError(t, b.Write(img, reg))
		assert.Equal(t, []byte{0xDE, 0xAD}, img.Bytes()[0x4020:0x4022])
	})

	t.Run("not placed", func(t *testing.T) {
		reg := registry.New()
		b := New("a", Bytes{1})
		assert.ErrorIs(t, b.Write(writer.NewImage(), reg), ErrNotPlaced)

		b.AssignBank(bankaddr.MustBank(1), reg)
		assert.ErrorIs(t, b.Write(writer.NewImage(), reg), ErrNotPlaced)
	})

	t.Run("payload larger than reserved", func(t *testing.T) {
		reg := registry.New()
		b := New("a", shrinking{worst: 2, actual: 3})
		b.AssignBank(bankaddr.MustBank(1), reg)
		_, ok := b.AssignAddresses(bankaddr.MustNew(1, 0), reg)
		require.True(t, ok)
		assert.ErrorIs(t, b.Write(writer.NewImage(), reg), ErrSizeExceeded)
	})
}

func TestSegmentedBlock_AssignAddresses(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	b := NewSegmented("s", []*Segment{
		NewSegment("s.head", Bytes{1, 2, 3}),
		NewSegment("s.body", Bytes(make([]byte, 0x10))),
		NewSegment("s.tail", Bytes{4}),
	})
	assert.Equal(t, 0x14, b.WorstCaseSize(reg))

	b.AssignBank(bankaddr.MustBank(5), reg)
	for _, id := range append([]string{"s"}, b.SegmentIDs()...) {
		got, ok := reg.Get(id)
		require.True(t, ok)
		assert.Equal(t, bankaddr.FromParts(bankaddr.MustBank(5), bankaddr.UnassignedOffset), got)
	}

	next, ok := b.AssignAddresses(bankaddr.MustNew(5, 0x100), reg)
	require.True(t, ok)
	assert.Equal(t, bankaddr.MustNew(5, 0x114), next)

	head, _ := reg.Get("s.head")
	body, _ := reg.Get("s.body")
	tail, _ := reg.Get("s.tail")
	assert.Equal(t, bankaddr.MustNew(5, 0x100), head)
	assert.Equal(t, bankaddr.MustNew(5, 0x103), body)
	assert.Equal(t, bankaddr.MustNew(5, 0x113), tail)

	t.Run("relative addresses", func(t *testing.T) {
		rel := registry.New()
		before := reg.Len()
		require.True(t, b.SegmentsRelativeAddresses(bankaddr.MustNew(5, 0x100), reg, rel))
		got, _ := rel.Get("s.body")
		assert.Equal(t, bankaddr.MustNew(0, 3), got)
		got, _ = rel.Get("s.tail")
		assert.Equal(t, bankaddr.MustNew(0, 0x13), got)
		assert.Equal(t, before, reg.Len())

		assert.False(t, b.SegmentsRelativeAddresses(bankaddr.MustNew(5, 0x200), reg, registry.New()))
	})

	t.Run("rollback", func(t *testing.T) {
		b.RemoveAddresses(reg)
		assert.Equal(t, 0, reg.Len())
	})
}

func TestSegmentedBlock_DoesNotCrossBank(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	b := NewSegmented("s", []*Segment{
		NewSegment("s.0", Bytes(make([]byte, 8))),
		NewSegment("s.1", Bytes(make([]byte, 8))),
	})
	b.AssignBank(bankaddr.MustBank(3), reg)

	_, ok := b.AssignAddresses(bankaddr.MustNew(3, bankaddr.BankSize-10), reg)
	assert.False(t, ok)
	b.RemoveAddresses(reg)
	assert.Equal(t, 0, reg.Len())

	crossing := NewSegmented("x", []*Segment{
		NewSegment("x.0", Bytes(make([]byte, 8))),
		NewSegment("x.1", Bytes(make([]byte, 8))),
	}, WithLimit(bankaddr.InValidRanges))
	crossing.AssignBank(bankaddr.MustBank(3), reg)
	next, ok := crossing.AssignAddresses(bankaddr.MustNew(3, bankaddr.BankSize-10), reg)
	require.True(t, ok)
	assert.Equal(t, bankaddr.MustNew(4, 6), next)
	second, _ := reg.Get("x.1")
	assert.Equal(t, bankaddr.MustNew(3, bankaddr.BankSize-2), second)
}

func TestSegmentedBlock_SizesSegmentsWhereTheyLand(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	reg.Put("t", bankaddr.MustNew(5, 0x10))

	b := NewSegmented("s", []*Segment{
		NewSegment("s.0", Bytes(make([]byte, 0x20))),
		NewSegment("s.1", Reference{Target: "t", Encoding: BankedPointer{}}),
	}, WithLimit(bankaddr.InValidRanges))
	b.AssignBank(bankaddr.MustBank(5), reg)
	assert.Equal(t, 0x22, b.WorstCaseSize(reg), "both segments assumed in bank 5")

	start := bankaddr.MustNew(5, 0x3FF0)
	next, ok := b.AssignAddresses(start, reg)
	require.True(t, ok)
	assert.Equal(t, bankaddr.MustNew(6, 0x13), next, "the pointer in bank 6 needs the far form")

	img := writer.NewImage()
	end, err := b.Write(img, reg)
	require.NoError(t, err)
	assert.Equal(t, next, end)
	assert.Equal(t, []byte{5, 0x10, 0x40}, img.Bytes()[0x18010:0x18013])
}

func TestCheckAndFillSegmentGaps(t *testing.T) {
	t.Parallel()

	t.Run("contiguous", func(t *testing.T) {
		w := &recordingWriter{}
		require.NoError(t, CheckAndFillSegmentGaps(mustGlobal(t, 0x5000), mustGlobal(t, 0x5000), w, "next"))
		assert.Empty(t, w.calls)
	})

	t.Run("gap", func(t *testing.T) {
		w := &recordingWriter{}
		require.NoError(t, CheckAndFillSegmentGaps(mustGlobal(t, 0x5000), mustGlobal(t, 0x5010), w, "next"))
		assert.Equal(t, []string{"blank [0x5000, 0x5010)", "start next@0x5010"}, w.calls)
		assert.Equal(t, "next", w.CurrentBlockName())
	})

	t.Run("overlap", func(t *testing.T) {
		w := &recordingWriter{}
		err := CheckAndFillSegmentGaps(mustGlobal(t, 0x5000), mustGlobal(t, 0x4FF0), w, "next")
		assert.ErrorIs(t, err, ErrSegmentOverlap)
		assert.Empty(t, w.calls)
	})

	t.Run("partial address", func(t *testing.T) {
		w := &recordingWriter{}
		partial := bankaddr.FromParts(bankaddr.MustBank(1), bankaddr.UnassignedOffset)
		err := CheckAndFillSegmentGaps(mustGlobal(t, 0x5000), partial, w, "next")
		assert.ErrorIs(t, err, ErrNotPlaced)
	})
}

func TestSegmentedBlock_Write(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	b := NewSegmented("s", []*Segment{
		NewSegment("s.0", shrinking{worst: 4, actual: 2}),
		NewSegment("s.1", Bytes{0xAA, 0xBB}),
	})
	b.AssignBank(bankaddr.MustBank(1), reg)
	next, ok := b.AssignAddresses(bankaddr.MustNew(1, 0x1000), reg)
	require.True(t, ok)
	assert.Equal(t, mustGlobal(t, 0x5006), next)

	w := &recordingWriter{}
	end, err := b.Write(w, reg)
	require.NoError(t, err)
	assert.Equal(t, mustGlobal(t, 0x5006), end)
	assert.Equal(t, []string{
		"start s@0x5000",
		"append 2",
		"blank [0x5002, 0x5004)",
		"start s.1@0x5004",
		"append 2",
	}, w.calls)

	img := writer.NewImage(writer.WithFiller(0))
	_, err = b.Write(img, reg)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 0, 0, 0xAA, 0xBB}, img.Bytes()[0x5000:0x5006])
	assert.Equal(t, []writer.Segment{
		{Name: "s", Range: bankaddr.AddressRange{Start: 0x5000, End: 0x5002}},
		{Name: "s", Range: bankaddr.AddressRange{Start: 0x5002, End: 0x5004}, Blank: true},
		{Name: "s.1", Range: bankaddr.AddressRange{Start: 0x5004, End: 0x5006}},
	}, img.Segments())
}

func TestSegmentedBlock_WriteErrors(t *testing.T) {
	t.Parallel()

	t.Run("overlapping registry", func(t *testing.T) {
		reg := registry.New()
		b := NewSegmented("s", []*Segment{
			NewSegment("s.0", Bytes{1, 2, 3, 4}),
			NewSegment("s.1", Bytes{5}),
		})
		b.AssignBank(bankaddr.MustBank(1), reg)
		_, ok := b.AssignAddresses(bankaddr.MustNew(1, 0x1000), reg)
		require.True(t, ok)

		// Another decision moved the second segment back into the first
		reg.Put("s.1", bankaddr.MustNew(1, 0x1002))
		_, err := b.Write(writer.NewImage(), reg)
		assert.ErrorIs(t, err, ErrSegmentOverlap)
	})

	t.Run("segment larger than reserved", func(t *testing.T) {
		reg := registry.New()
		b := NewSegmented("s", []*Segment{NewSegment("s.0", shrinking{worst: 1, actual: 2})})
		b.AssignBank(bankaddr.MustBank(1), reg)
		_, ok := b.AssignAddresses(bankaddr.MustNew(1, 0), reg)
		require.True(t, ok)
		_, err := b.Write(writer.NewImage(), reg)
		assert.ErrorIs(t, err, ErrSizeExceeded)
	})

	t.Run("reuse hints reach the writer", func(t *testing.T) {
		reg := registry.New()
		img := writer.NewImage()
		require.NoError(t, img.StartNewBlock(bankaddr.MustNew(1, 0)))
		require.NoError(t, img.Append([]byte{9, 9}))

		b := NewSegmented("s", []*Segment{NewSegment("s.0", Bytes{1, 2})})
		b.AssignBank(bankaddr.MustBank(1), reg)
		_, ok := b.AssignAddresses(bankaddr.MustNew(1, 0), reg)
		require.True(t, ok)

		_, err := b.Write(img, reg)
		assert.ErrorIs(t, err, writer.ErrOverwrite)

		b.AddByteSourceHint(bankaddr.AddressRange{Start: 0x4000, End: 0x4002})
		_, err = b.Write(img, reg)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2}, img.Bytes()[0x4000:0x4002])
	})
}
