package block

import (
	"fmt"

	"github.com/garethgeorge/banklayout/internal/bankaddr"
	"github.com/garethgeorge/banklayout/internal/registry"
	"github.com/garethgeorge/banklayout/internal/writer"
)

// Segment is one named run inside a SegmentedBlock.
type Segment struct {
	id       string
	payload  Payload
	reserved int
}

func NewSegment(id string, payload Payload) *Segment {
	return &Segment{id: id, payload: payload}
}

func (s *Segment) ID() string {
	return s.id
}

func (s *Segment) worstCaseSize(reg *registry.AssignedAddresses) int {
	at, _ := reg.Get(s.id)
	return s.payload.WorstCaseSize(at, reg)
}

// SegmentedBlock lays its segments out in order, each one starting where the reservation of the
// previous one ends. Segments that turn out shorter than reserved leave a gap that is blanked when
// the block is written.
type SegmentedBlock struct {
	id       string
	segments []*Segment
	limit    bankaddr.LimitType
	hints    []bankaddr.AddressRange
}

var _ SegmentedByteBlock = (*SegmentedBlock)(nil)

func NewSegmented(id string, segments []*Segment, opts ...Option) *SegmentedBlock {
	o := defaultOptions(opts)
	return &SegmentedBlock{
		id:       id,
		segments: segments,
		limit:    o.limit,
	}
}

func (b *SegmentedBlock) ID() string {
	return b.id
}

func (b *SegmentedBlock) Limit() bankaddr.LimitType {
	return b.limit
}

func (b *SegmentedBlock) SegmentIDs() []string {
	ids := make([]string, len(b.segments))
	for i, s := range b.segments {
		ids[i] = s.id
	}
	return ids
}

func (b *SegmentedBlock) AddAllIDs(used map[string]struct{}) error {
	return addIDs(used, append([]string{b.id}, b.SegmentIDs()...)...)
}

func (b *SegmentedBlock) WorstCaseSize(reg *registry.AssignedAddresses) int {
	total := 0
	for _, s := range b.segments {
		total += s.worstCaseSize(reg)
	}
	return total
}

func (b *SegmentedBlock) AssignBank(bank bankaddr.Bank, reg *registry.AssignedAddresses) {
	reg.PutBank(b.id, bank)
	for _, s := range b.segments {
		reg.PutBank(s.id, bank)
	}
}

func (b *SegmentedBlock) AssignAddresses(start bankaddr.BankAddress, reg *registry.AssignedAddresses) (bankaddr.BankAddress, bool) {
	if !canStartAt(b.id, start, reg) {
		return bankaddr.Unassigned, false
	}

	cursor := start
	total := 0
	for i, s := range b.segments {
		// Sized where it will be written, which may be past the starting bank
		reg.Put(s.id, cursor)
		size := s.worstCaseSize(reg)
		s.reserved = size
		total += size
		if i == len(b.segments)-1 {
			break
		}
		// Inner cursors only need to exist, the limit is checked once for the whole run
		var ok bool
		cursor, ok = start.Advance(total, bankaddr.InValidRanges)
		if !ok {
			return bankaddr.Unassigned, false
		}
	}

	next, ok := start.Advance(total, b.limit)
	if !ok {
		return bankaddr.Unassigned, false
	}
	reg.Put(b.id, start)
	return next, true
}

func (b *SegmentedBlock) RemoveAddresses(reg *registry.AssignedAddresses) {
	reg.Remove(b.id)
	for _, s := range b.segments {
		reg.Remove(s.id)
		s.reserved = 0
	}
}

func (b *SegmentedBlock) SegmentsRelativeAddresses(base bankaddr.BankAddress, reg, rel *registry.AssignedAddresses) bool {
	relative := make([]registry.Entry, 0, len(b.segments))
	for _, s := range b.segments {
		addr, ok := reg.Get(s.id)
		if !ok {
			return false
		}
		diff, ok := base.Difference(addr)
		if !ok || diff < 0 {
			return false
		}
		relAddr, err := bankaddr.FromGlobal(diff)
		if err != nil {
			return false
		}
		relative = append(relative, registry.Entry{ID: s.id, Address: relAddr})
	}
	for _, e := range relative {
		rel.Put(e.ID, e.Address)
	}
	return true
}

func (b *SegmentedBlock) AddByteSourceHint(r bankaddr.AddressRange) {
	b.hints = append(b.hints, r)
}

func (b *SegmentedBlock) Write(w writer.QueuedWriter, reg *registry.AssignedAddresses) (bankaddr.BankAddress, error) {
	blockAddr, ok := reg.Get(b.id)
	if !ok || !blockAddr.IsFull() {
		return bankaddr.Unassigned, fmt.Errorf("%w: %q", ErrNotPlaced, b.id)
	}
	if err := w.StartNewBlock(blockAddr, writer.WithReuseHints(b.hints...), writer.WithSegmentName(b.id)); err != nil {
		return bankaddr.Unassigned, fmt.Errorf("starting %q at %v: %w", b.id, blockAddr, err)
	}

	expected := blockAddr
	for _, s := range b.segments {
		segAddr, ok := reg.Get(s.id)
		if !ok || !segAddr.IsFull() {
			return bankaddr.Unassigned, fmt.Errorf("%w: segment %q of %q", ErrNotPlaced, s.id, b.id)
		}
		if err := b.CheckAndFillSegmentGaps(expected, segAddr, w, s.id); err != nil {
			return bankaddr.Unassigned, err
		}

		data, err := s.payload.Encode(segAddr, reg)
		if err != nil {
			return bankaddr.Unassigned, fmt.Errorf("encoding segment %q: %w", s.id, err)
		}
		if len(data) > s.reserved {
			return bankaddr.Unassigned, fmt.Errorf("%w: segment %q is %d bytes, reserved %d", ErrSizeExceeded, s.id, len(data), s.reserved)
		}
		if err := w.Append(data); err != nil {
			return bankaddr.Unassigned, fmt.Errorf("writing segment %q: %w", s.id, err)
		}

		expected, ok = segAddr.Advance(len(data), bankaddr.InValidRanges)
		if !ok {
			return bankaddr.Unassigned, fmt.Errorf("%w: segment %q ends past the last bank", bankaddr.ErrInvalidAddress, s.id)
		}
	}
	return expected, nil
}

func (b *SegmentedBlock) CheckAndFillSegmentGaps(expected, next bankaddr.BankAddress, w writer.QueuedWriter, nextSegmentName string) error {
	return CheckAndFillSegmentGaps(expected, next, w, nextSegmentName)
}

// CheckAndFillSegmentGaps reconciles where the writer is with where the next segment was placed. A
// gap is blanked and the segment opened at its own address, an overlap is a fatal layout error.
func CheckAndFillSegmentGaps(expected, next bankaddr.BankAddress, w writer.QueuedWriter, nextSegmentName string) error {
	diff, ok := expected.Difference(next)
	if !ok {
		return fmt.Errorf("%w: segment %q at %v, writer at %v", ErrNotPlaced, nextSegmentName, next, expected)
	}
	switch {
	case diff == 0:
		return nil
	case diff < 0:
		return fmt.Errorf("%w: segment %q at %v, writer already at %v", ErrSegmentOverlap, nextSegmentName, next, expected)
	}

	gap, _ := expected.DifferenceAsRange(next)
	if err := w.BlankUnusedSpace(gap); err != nil {
		return fmt.Errorf("blanking gap before %q: %w", nextSegmentName, err)
	}
	if err := w.StartNewBlock(next, writer.WithSegmentName(nextSegmentName)); err != nil {
		return fmt.Errorf("starting segment %q at %v: %w", nextSegmentName, next, err)
	}
	return nil
}
