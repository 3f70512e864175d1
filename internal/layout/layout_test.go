package layout

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/garethgeorge/banklayout/internal/bankaddr"
	"github.com/garethgeorge/banklayout/internal/block"
	"github.com/garethgeorge/banklayout/internal/progress"
	"github.com/garethgeorge/banklayout/internal/registry"
	"github.com/garethgeorge/banklayout/internal/writer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shrinking reserves worst bytes but encodes only actual.
type shrinking struct {
	worst, actual int
}

func (s shrinking) WorstCaseSize(bankaddr.BankAddress, *registry.AssignedAddresses) int {
	return s.worst
}

func (s shrinking) Encode(bankaddr.BankAddress, *registry.AssignedAddresses) ([]byte, error) {
	return bytes.Repeat([]byte{0x5A}, s.actual), nil
}

func newLayout(t *testing.T, opts ...Option) *Layout {
	t.Helper()
	l, err := New(opts...)
	require.NoError(t, err)
	return l
}

func TestLayout_PlacesLargestFirst(t *testing.T) {
	t.Parallel()
	l := newLayout(t)
	require.NoError(t, l.AddBlock(block.New("small", block.Bytes(make([]byte, 0x10)))))
	require.NoError(t, l.AddBlock(block.New("big", block.Bytes(make([]byte, 0x20)))))
	require.NoError(t, l.Place(context.Background()))

	big, _ := l.Registry().Get("big")
	small, _ := l.Registry().Get("small")
	assert.Equal(t, bankaddr.MustNew(0, 0), big)
	assert.Equal(t, bankaddr.MustNew(0, 0x20), small)
	assert.Equal(t, bankaddr.BankSize-0x30, l.BankFreeBytes(0))

	assert.Equal(t, []Placement{
		{ID: "big", Span: bankaddr.AddressRange{Start: 0, End: 0x20}},
		{ID: "small", Span: bankaddr.AddressRange{Start: 0x20, End: 0x30}},
	}, l.Placements())
}

func TestLayout_Preferences(t *testing.T) {
	t.Parallel()
	l := newLayout(t)
	require.NoError(t, l.AddBlock(block.New("banked", block.Bytes{1, 2}), InBanks(7, 8)))
	require.NoError(t, l.AddBlock(block.New("pinned", block.Bytes{3}), At(bankaddr.MustNew(7, 0))))
	require.NoError(t, l.Place(context.Background()))

	pinned, _ := l.Registry().Get("pinned")
	banked, _ := l.Registry().Get("banked")
	assert.Equal(t, bankaddr.MustNew(7, 0), pinned)
	assert.Equal(t, bankaddr.MustNew(7, 1), banked)
}

func TestLayout_AddErrors(t *testing.T) {
	t.Parallel()
	l := newLayout(t)
	require.NoError(t, l.AddBlock(block.New("a", block.Bytes{1})))
	assert.ErrorIs(t, l.AddBlock(block.New("a", block.Bytes{1})), block.ErrDuplicateID)

	partial := bankaddr.FromParts(bankaddr.MustBank(1), bankaddr.UnassignedOffset)
	assert.ErrorIs(t, l.AddBlock(block.New("b", block.Bytes{1}), At(partial)), ErrInvalidPin)
	assert.ErrorIs(t, l.AddBlock(block.New("c", block.Bytes{1}), InBanks(bankaddr.NumberOfBanks)), bankaddr.ErrInvalidBank)

	_, err := New(WithBlankedRanges(
		bankaddr.AddressRange{Start: 0, End: 0x10},
		bankaddr.AddressRange{Start: 0x8, End: 0x18},
	))
	assert.ErrorIs(t, err, ErrReservedRange)
}

func TestLayout_NoSpace(t *testing.T) {
	t.Parallel()
	l := newLayout(t)
	require.NoError(t, l.AddBlock(block.New("fits", block.Bytes{1}), InBanks(2)))
	require.NoError(t, l.AddBlock(block.New("huge", block.Bytes(make([]byte, bankaddr.BankSize+1)))))
	require.NoError(t, l.AddBlock(block.New("pinned", block.Bytes{1, 2}), At(bankaddr.MustNew(2, bankaddr.BankSize-1))))

	err := l.Place(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSpace)

	var errMap *ErrorMap
	require.True(t, errors.As(err, &errMap))
	assert.Len(t, errMap.Errors, 2)
	assert.Contains(t, errMap.Errors, "huge")
	assert.Contains(t, errMap.Errors, "pinned")

	// Failed blocks leave nothing behind in the registry
	_, ok := l.Registry().Get("huge")
	assert.False(t, ok)
	_, ok = l.Registry().Get("pinned")
	assert.False(t, ok)
	assert.Equal(t, 1, l.Registry().Len())

	assert.ErrorIs(t, l.Write(writer.NewImage()), block.ErrNotPlaced)
}

func TestLayout_CrossingBanks(t *testing.T) {
	t.Parallel()
	l := newLayout(t, WithBlankedRanges(bankaddr.AddressRange{Start: 0, End: 0x3FFC}))
	require.NoError(t, l.AddBlock(block.New("crossing", block.Bytes(make([]byte, 8)), block.WithLimit(bankaddr.InValidRanges)), InBanks(0)))
	require.NoError(t, l.Place(context.Background()))

	got, _ := l.Registry().Get("crossing")
	assert.Equal(t, bankaddr.MustNew(0, 0x3FFC), got)
	assert.Equal(t, []Placement{
		{ID: "crossing", Span: bankaddr.AddressRange{Start: 0x3FFC, End: 0x4004}},
	}, l.Placements())

	require.NoError(t, l.AddBlock(block.New("bounded", block.Bytes(make([]byte, 8))), InBanks(0)))
	assert.ErrorIs(t, l.Place(context.Background()), ErrNoSpace)
}

// cancelAfter cancels placement once n blocks are done.
type cancelAfter struct {
	progress.NoopBarProgressTracker
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) SetDone(n int) {
	if n == c.n {
		c.cancel()
	}
}

func TestLayout_CancelledMidway(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := newLayout(t, WithProgress(&cancelAfter{n: 1, cancel: cancel}))
	require.NoError(t, l.AddBlock(block.New("a", block.Bytes{1, 2})))
	require.NoError(t, l.AddSegmentedBlock(block.NewSegmented("b", []*block.Segment{
		block.NewSegment("b.0", block.Bytes{3}),
	})))

	assert.ErrorIs(t, l.Place(ctx), context.Canceled)
	assert.Equal(t, 0, l.Registry().Len())
	assert.Equal(t, bankaddr.BankSize, l.BankFreeBytes(0))
	assert.Empty(t, l.Placements())

	require.NoError(t, l.Place(context.Background()))
	a, _ := l.Registry().Get("a")
	b, _ := l.Registry().Get("b")
	assert.Equal(t, bankaddr.MustNew(0, 0), a)
	assert.Equal(t, bankaddr.MustNew(0, 2), b)
}

func TestLayout_ReferencesAcrossBanks(t *testing.T) {
	t.Parallel()
	pointer := block.BankedPointer{}
	target := bankaddr.MustNew(5, 0x10)
	start := bankaddr.MustNew(5, 0x3FF0)

	t.Run("segmented", func(t *testing.T) {
		l := newLayout(t)
		require.NoError(t, l.AddBlock(block.New("t", block.Bytes{0xEE}), At(target)))
		require.NoError(t, l.AddSegmentedBlock(block.NewSegmented("s", []*block.Segment{
			block.NewSegment("s.0", block.Bytes(make([]byte, 0x20))),
			block.NewSegment("s.1", block.Reference{Target: "t", Encoding: pointer}),
		}, block.WithLimit(bankaddr.InValidRanges)), At(start)))
		require.NoError(t, l.Place(context.Background()))

		img := writer.NewImage()
		require.NoError(t, l.Write(img))
		assert.Equal(t, []byte{5, 0x10, 0x40}, img.Bytes()[0x18010:0x18013])
	})

	t.Run("sequence", func(t *testing.T) {
		l := newLayout(t)
		require.NoError(t, l.AddBlock(block.New("t", block.Bytes{0xEE}), At(target)))
		require.NoError(t, l.AddBlock(block.New("b", block.Sequence{
			block.Bytes(make([]byte, 0x20)),
			block.Reference{Target: "t", Encoding: pointer},
		}, block.WithLimit(bankaddr.InValidRanges)), At(start)))
		require.NoError(t, l.Place(context.Background()))

		img := writer.NewImage()
		require.NoError(t, l.Write(img))
		assert.Equal(t, []byte{5, 0x10, 0x40}, img.Bytes()[0x18010:0x18013])
		assert.Equal(t, bankaddr.AddressRange{Start: 0x17FF0, End: 0x18013}, l.Placements()[1].Span)
	})
}

func TestLayout_Cancelled(t *testing.T) {
	t.Parallel()
	l := newLayout(t)
	require.NoError(t, l.AddBlock(block.New("a", block.Bytes{1})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Place(ctx), context.Canceled)
}

func TestLayout_Write(t *testing.T) {
	t.Parallel()
	pointer := block.BankedPointer{}
	l := newLayout(t, WithBlankedRanges(bankaddr.AddressRange{Start: 0x20, End: 0x24}))

	require.NoError(t, l.AddBlock(block.New("data", block.Bytes{1, 2, 3}), At(bankaddr.MustNew(1, 0))))
	require.NoError(t, l.AddBlock(block.New("near", block.Reference{Target: "data", Encoding: pointer}), InBanks(1)))
	require.NoError(t, l.AddBlock(block.New("far", block.Reference{Target: "data", Encoding: pointer}), InBanks(2)))
	require.NoError(t, l.AddSegmentedBlock(block.NewSegmented("seg", []*block.Segment{
		block.NewSegment("seg.0", shrinking{worst: 4, actual: 2}),
		block.NewSegment("seg.1", block.Bytes{0xAA}),
	}), InBanks(3)))
	require.NoError(t, l.AddBlock(block.New("short", shrinking{worst: 4, actual: 1}), InBanks(4)))
	require.NoError(t, l.Place(context.Background()))

	img := writer.NewImage(
		writer.WithBaseImage(bytes.Repeat([]byte{0x11}, bankaddr.TotalSize)),
		writer.WithFiller(0x00),
	)
	require.NoError(t, l.Write(img))
	data := img.Bytes()

	assert.Equal(t, []byte{0x11, 0, 0, 0, 0, 0x11}, data[0x1F:0x25], "blanked range")
	assert.Equal(t, []byte{1, 2, 3, 0x00, 0x40, 0x11}, data[0x4000:0x4006], "data then near pointer")
	assert.Equal(t, []byte{1, 0x00, 0x40, 0x11}, data[0x8000:0x8004], "far pointer")
	assert.Equal(t, []byte{0x5A, 0x5A, 0, 0, 0xAA, 0x11}, data[0xC000:0xC006], "segments with a gap")
	assert.Equal(t, []byte{0x5A, 0, 0, 0, 0x11}, data[0x10000:0x10005], "unused tail")

	placements := l.Placements()
	require.Len(t, placements, 5)
	assert.Equal(t, "seg", placements[3].ID)
	assert.Equal(t, []string{"seg.0", "seg.1"}, placements[3].Segments)
}

func TestErrorMap(t *testing.T) {
	t.Parallel()
	errs := &ErrorMap{}
	assert.False(t, errs.HasErrors())
	assert.Equal(t, "", errs.Error())

	errs.AddError("b", ErrNoSpace)
	errs.AddError("a", block.ErrSegmentOverlap)
	assert.True(t, errs.HasErrors())
	assert.Equal(t, "Errors:\na: segment overlaps the bytes before it\nb: no space left for block\n", errs.Error())
	assert.ErrorIs(t, errs, ErrNoSpace)
	assert.ErrorIs(t, errs, block.ErrSegmentOverlap)
}
