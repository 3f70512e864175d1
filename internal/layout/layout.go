package layout

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/garethgeorge/banklayout/internal/bankaddr"
	"github.com/garethgeorge/banklayout/internal/block"
	"github.com/garethgeorge/banklayout/internal/freespace"
	"github.com/garethgeorge/banklayout/internal/progress"
	"github.com/garethgeorge/banklayout/internal/registry"
	"github.com/garethgeorge/banklayout/internal/writer"
)

type options struct {
	logger   *slog.Logger
	progress progress.BarProgressTracker
	reserved []bankaddr.AddressRange
}

type Option = func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithProgress(tracker progress.BarProgressTracker) Option {
	return func(o *options) {
		o.progress = tracker
	}
}

// WithBlankedRanges keeps ranges free of blocks and blanks them when the layout is written.
func WithBlankedRanges(ranges ...bankaddr.AddressRange) Option {
	return func(o *options) {
		o.reserved = append(o.reserved, ranges...)
	}
}

type placementOptions struct {
	banks  []int
	pinned bankaddr.BankAddress
}

type PlacementOption = func(*placementOptions)

// InBanks restricts a block to the given banks, tried in order.
func InBanks(banks ...int) PlacementOption {
	return func(o *placementOptions) {
		o.banks = append(o.banks, banks...)
	}
}

// At pins a block to a full address.
func At(addr bankaddr.BankAddress) PlacementOption {
	return func(o *placementOptions) {
		o.pinned = addr
	}
}

type entry struct {
	order     int
	block     block.Placeable
	plain     block.ByteBlock
	segmented block.SegmentedByteBlock
	banks     []int
	pinned    bankaddr.BankAddress

	placed bool
	span   bankaddr.AddressRange
}

// Placement is where a block ended up.
type Placement struct {
	ID       string
	Span     bankaddr.AddressRange
	Segments []string
}

// Layout decides the address of every block added to it and writes them in address order.
// It is not thread-safe.
type Layout struct {
	logger   *slog.Logger
	progress progress.BarProgressTracker
	reserved []bankaddr.AddressRange

	reg     *registry.AssignedAddresses
	space   *freespace.Map
	ids     map[string]struct{}
	entries []*entry
}

func New(opts ...Option) (*Layout, error) {
	o := options{
		logger:   slog.Default(),
		progress: progress.NoopBarProgressTracker{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	space := freespace.NewAddressSpace()
	for _, r := range o.reserved {
		if err := space.MarkAllocated(r); err != nil {
			return nil, fmt.Errorf("%w: %v: %w", ErrReservedRange, r, err)
		}
	}

	return &Layout{
		logger:   o.logger,
		progress: o.progress,
		reserved: o.reserved,
		reg:      registry.New(),
		space:    space,
		ids:      make(map[string]struct{}),
	}, nil
}

func (l *Layout) Registry() *registry.AssignedAddresses {
	return l.reg
}

func (l *Layout) AddBlock(b block.ByteBlock, opts ...PlacementOption) error {
	return l.add(&entry{block: b, plain: b}, opts)
}

func (l *Layout) AddSegmentedBlock(b block.SegmentedByteBlock, opts ...PlacementOption) error {
	return l.add(&entry{block: b, segmented: b}, opts)
}

func (l *Layout) add(e *entry, opts []PlacementOption) error {
	var o placementOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.pinned != bankaddr.Unassigned && !o.pinned.IsFull() {
		return fmt.Errorf("%w: %q at %v", ErrInvalidPin, e.block.ID(), o.pinned)
	}
	for _, bank := range o.banks {
		if _, err := bankaddr.NewBank(bank); err != nil {
			return fmt.Errorf("block %q: %w", e.block.ID(), err)
		}
	}
	if err := e.block.AddAllIDs(l.ids); err != nil {
		return err
	}

	e.order = len(l.entries)
	e.banks = o.banks
	e.pinned = o.pinned
	l.entries = append(l.entries, e)
	return nil
}

// Place assigns an address to every block not placed yet. Pinned blocks go first in the order they
// were added, the rest largest first. Blocks that fit nowhere are reported together in an ErrorMap.
// A cancelled Place undoes the placements it made.
func (l *Layout) Place(ctx context.Context) error {
	pending := make([]*entry, 0, len(l.entries))
	sizes := make(map[*entry]int, len(l.entries))
	for _, e := range l.entries {
		if e.placed {
			continue
		}
		pending = append(pending, e)
		sizes[e] = e.block.WorstCaseSize(l.reg)
	}
	slices.SortStableFunc(pending, func(a, b *entry) int {
		aPinned, bPinned := a.pinned.IsFull(), b.pinned.IsFull()
		if aPinned != bPinned {
			if aPinned {
				return -1
			}
			return 1
		}
		if aPinned {
			return cmp.Compare(a.order, b.order)
		}
		if c := cmp.Compare(sizes[b], sizes[a]); c != 0 {
			return c
		}
		return cmp.Compare(a.order, b.order)
	})

	l.progress.SetMessage("placing blocks")
	l.progress.SetTotal(int64(len(pending)))
	defer l.progress.MarkFinished()

	errs := &ErrorMap{Title: "blocks that could not be placed"}
	var placed []*entry
	for i, e := range pending {
		if err := ctx.Err(); err != nil {
			l.progress.SetError(err)
			return fmt.Errorf("placing blocks: %w", errors.Join(err, l.unplace(placed)))
		}
		if l.place(e) {
			placed = append(placed, e)
		} else {
			l.logger.Warn("no space for block", "id", e.block.ID(), "size", sizes[e])
			errs.AddError(e.block.ID(), fmt.Errorf("%w: %d bytes", ErrNoSpace, sizes[e]))
		}
		l.progress.SetDone(i + 1)
	}
	if errs.HasErrors() {
		l.progress.SetError(errs)
		return errs
	}
	return nil
}

func (l *Layout) candidateBanks(e *entry) []int {
	if e.pinned.IsFull() {
		bank, _ := e.pinned.Bank().Index()
		return []int{bank}
	}
	if len(e.banks) > 0 {
		return e.banks
	}
	banks := make([]int, bankaddr.NumberOfBanks)
	for i := range banks {
		banks[i] = i
	}
	return banks
}

func (l *Layout) place(e *entry) bool {
	id := e.block.ID()
	crossBank := limitOf(e.block) == bankaddr.InValidRanges

	for _, bank := range l.candidateBanks(e) {
		e.block.AssignBank(bankaddr.MustBank(bank), l.reg)
		size := e.block.WorstCaseSize(l.reg)

		start := e.pinned
		if !start.IsFull() {
			r, ok := l.space.FindInBank(bank, size, crossBank)
			if !ok {
				e.block.RemoveAddresses(l.reg)
				continue
			}
			start, _ = bankaddr.FromGlobal(r.Start)
		}

		span, ok := l.attempt(e, start)
		if !ok {
			e.block.RemoveAddresses(l.reg)
			l.logger.Debug("block does not fit", "id", id, "start", start, "size", size)
			continue
		}
		e.placed = true
		e.span = span
		l.logger.Debug("placed block", "id", id, "start", start, "size", span.Size())
		return true
	}
	return false
}

// unplace rolls placed entries back and releases their spans.
func (l *Layout) unplace(entries []*entry) error {
	for _, e := range entries {
		e.block.RemoveAddresses(l.reg)
		if err := l.space.Free(e.span); err != nil {
			return fmt.Errorf("releasing %q: %w", e.block.ID(), err)
		}
		e.placed = false
		e.span = bankaddr.EmptyRange
	}
	return nil
}

// attempt assigns addresses at start and reserves the resulting span.
func (l *Layout) attempt(e *entry, start bankaddr.BankAddress) (bankaddr.AddressRange, bool) {
	next, ok := e.block.AssignAddresses(start, l.reg)
	if !ok {
		return bankaddr.EmptyRange, false
	}
	startGlobal, _ := start.Global()
	nextGlobal, _ := next.Global()
	span := bankaddr.AddressRange{Start: startGlobal, End: nextGlobal}
	// The size may have changed since the free run was picked
	if !l.space.IsRangeFree(span) {
		return bankaddr.EmptyRange, false
	}
	if err := l.space.MarkAllocated(span); err != nil {
		return bankaddr.EmptyRange, false
	}
	return span, true
}

func limitOf(b block.Placeable) bankaddr.LimitType {
	if limited, ok := b.(interface{ Limit() bankaddr.LimitType }); ok {
		return limited.Limit()
	}
	return bankaddr.WithinBankOrStartOfNext
}

// Placements returns the placed blocks in address order.
func (l *Layout) Placements() []Placement {
	placements := make([]Placement, 0, len(l.entries))
	for _, e := range l.placedInOrder() {
		p := Placement{ID: e.block.ID(), Span: e.span}
		if e.segmented != nil {
			p.Segments = e.segmented.SegmentIDs()
		}
		placements = append(placements, p)
	}
	return placements
}

func (l *Layout) placedInOrder() []*entry {
	placed := make([]*entry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.placed {
			placed = append(placed, e)
		}
	}
	slices.SortFunc(placed, func(a, b *entry) int {
		return cmp.Compare(a.span.Start, b.span.Start)
	})
	return placed
}

// BankFreeBytes returns how many bytes of bank no block or blanked range uses.
func (l *Layout) BankFreeBytes(bank int) int {
	return l.space.BankFreeBytes(bank)
}

// Write blanks the reserved ranges and then writes every block in address order, blanking what a
// block reserved but did not use. All blocks must have been placed.
func (l *Layout) Write(w writer.QueuedWriter) error {
	for _, e := range l.entries {
		if !e.placed {
			return fmt.Errorf("%w: %q", block.ErrNotPlaced, e.block.ID())
		}
	}
	if err := writer.BlankUnusedSpaces(w, l.reserved...); err != nil {
		return fmt.Errorf("blanking reserved ranges: %w", err)
	}

	placed := l.placedInOrder()
	l.progress.SetMessage("writing blocks")
	l.progress.SetTotal(int64(len(placed)))
	defer l.progress.MarkFinished()

	for i, e := range placed {
		end, err := l.writeEntry(e, w)
		if err != nil {
			l.progress.SetError(err)
			return fmt.Errorf("writing block %q: %w", e.block.ID(), err)
		}
		if tail := (bankaddr.AddressRange{Start: end, End: e.span.End}); !tail.IsEmpty() {
			if err := w.BlankUnusedSpace(tail); err != nil {
				return fmt.Errorf("blanking the end of %q: %w", e.block.ID(), err)
			}
		}
		l.progress.SetDone(i + 1)
	}
	return nil
}

func (l *Layout) writeEntry(e *entry, w writer.QueuedWriter) (int, error) {
	if e.segmented != nil {
		next, err := e.segmented.Write(w, l.reg)
		if err != nil {
			return 0, err
		}
		end, _ := next.Global()
		return end, nil
	}

	cw := &countingWriter{QueuedWriter: w, name: e.block.ID()}
	if err := e.plain.Write(cw, l.reg); err != nil {
		return 0, err
	}
	return e.span.Start + cw.n, nil
}

// countingWriter adapts a QueuedWriter for single-run blocks and counts what they write.
type countingWriter struct {
	writer.QueuedWriter
	name string
	n    int
}

var _ writer.SegmentedWriter = (*countingWriter)(nil)

func (c *countingWriter) NewSegment(addr bankaddr.BankAddress) error {
	return c.StartNewBlock(addr, writer.WithSegmentName(c.name))
}

func (c *countingWriter) Append(data []byte) error {
	if err := c.QueuedWriter.Append(data); err != nil {
		return err
	}
	c.n += len(data)
	return nil
}
