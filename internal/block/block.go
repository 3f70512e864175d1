package block

import (
	"fmt"

	"github.com/garethgeorge/banklayout/internal/bankaddr"
	"github.com/garethgeorge/banklayout/internal/registry"
	"github.com/garethgeorge/banklayout/internal/writer"
)

// Placeable is the part of the block lifecycle a layout driver needs to decide addresses:
//
//	WorstCaseSize -> AssignBank -> AssignAddresses -> Write
//
// RemoveAddresses rolls a block back from either assigned state. A failed AssignAddresses may leave
// partial entries behind, callers must always follow it with RemoveAddresses.
type Placeable interface {
	ID() string
	// AddAllIDs adds the ids this block registers under to used, failing with ErrDuplicateID if one
	// is already present.
	AddAllIDs(used map[string]struct{}) error
	// WorstCaseSize is an upper bound on the bytes Write will produce given what reg knows now.
	WorstCaseSize(reg *registry.AssignedAddresses) int
	AssignBank(bank bankaddr.Bank, reg *registry.AssignedAddresses)
	// AssignAddresses places the block at start and returns the address just after it. ok is false
	// if the block does not fit there.
	AssignAddresses(start bankaddr.BankAddress, reg *registry.AssignedAddresses) (next bankaddr.BankAddress, ok bool)
	RemoveAddresses(reg *registry.AssignedAddresses)
}

// ByteBlock is a single run of bytes.
type ByteBlock interface {
	Placeable
	Write(w writer.SegmentedWriter, reg *registry.AssignedAddresses) error
}

// SegmentedByteBlock is a run of named segments laid out back to back in one block.
type SegmentedByteBlock interface {
	Placeable
	SegmentIDs() []string
	// SegmentsRelativeAddresses records each segment's distance from base into rel. reg is only read.
	SegmentsRelativeAddresses(base bankaddr.BankAddress, reg, rel *registry.AssignedAddresses) bool
	// AddByteSourceHint adds a range the block may write over when it is written.
	AddByteSourceHint(r bankaddr.AddressRange)
	// Write returns the address just after the last byte written.
	Write(w writer.QueuedWriter, reg *registry.AssignedAddresses) (bankaddr.BankAddress, error)
	CheckAndFillSegmentGaps(expected, next bankaddr.BankAddress, w writer.QueuedWriter, nextSegmentName string) error
}

type blockOptions struct {
	limit bankaddr.LimitType
}

type Option = func(*blockOptions)

// WithLimit sets how a block may treat bank boundaries. The default allows a block to end exactly
// at the end of its bank.
func WithLimit(limit bankaddr.LimitType) Option {
	return func(o *blockOptions) {
		o.limit = limit
	}
}

func defaultOptions(opts []Option) blockOptions {
	o := blockOptions{limit: bankaddr.WithinBankOrStartOfNext}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Block is a ByteBlock producing the bytes of a single Payload.
type Block struct {
	id       string
	payload  Payload
	limit    bankaddr.LimitType
	reserved int
}

var _ ByteBlock = (*Block)(nil)

func New(id string, payload Payload, opts ...Option) *Block {
	o := defaultOptions(opts)
	return &Block{
		id:      id,
		payload: payload,
		limit:   o.limit,
	}
}

func (b *Block) ID() string {
	return b.id
}

func (b *Block) Limit() bankaddr.LimitType {
	return b.limit
}

func (b *Block) AddAllIDs(used map[string]struct{}) error {
	return addIDs(used, b.id)
}

func (b *Block) WorstCaseSize(reg *registry.AssignedAddresses) int {
	at, _ := reg.Get(b.id)
	return b.payload.WorstCaseSize(at, reg)
}

func (b *Block) AssignBank(bank bankaddr.Bank, reg *registry.AssignedAddresses) {
	reg.PutBank(b.id, bank)
}

func (b *Block) AssignAddresses(start bankaddr.BankAddress, reg *registry.AssignedAddresses) (bankaddr.BankAddress, bool) {
	if !canStartAt(b.id, start, reg) {
		return bankaddr.Unassigned, false
	}
	size := b.payload.WorstCaseSize(start, reg)
	next, ok := start.Advance(size, b.limit)
	if !ok {
		return bankaddr.Unassigned, false
	}
	reg.Put(b.id, start)
	b.reserved = size
	return next, true
}

func (b *Block) RemoveAddresses(reg *registry.AssignedAddresses) {
	reg.Remove(b.id)
	b.reserved = 0
}

func (b *Block) Write(w writer.SegmentedWriter, reg *registry.AssignedAddresses) error {
	addr, ok := reg.Get(b.id)
	if !ok || !addr.IsFull() {
		return fmt.Errorf("%w: %q", ErrNotPlaced, b.id)
	}
	data, err := b.payload.Encode(addr, reg)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", b.id, err)
	}
	if len(data) > b.reserved {
		return fmt.Errorf("%w: %q is %d bytes, reserved %d", ErrSizeExceeded, b.id, len(data), b.reserved)
	}
	if err := w.NewSegment(addr); err != nil {
		return fmt.Errorf("starting %q at %v: %w", b.id, addr, err)
	}
	if err := w.Append(data); err != nil {
		return fmt.Errorf("writing %q: %w", b.id, err)
	}
	return nil
}

// canStartAt rejects partial starts and starts outside a bank already assigned to id.
func canStartAt(id string, start bankaddr.BankAddress, reg *registry.AssignedAddresses) bool {
	if !start.IsFull() {
		return false
	}
	current, ok := reg.Get(id)
	if ok && !current.IsBankUnassigned() && !current.IsSameBank(start) {
		return false
	}
	return true
}

func addIDs(used map[string]struct{}, ids ...string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := used[id]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateID, id)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateID, id)
		}
		seen[id] = struct{}{}
	}
	for id := range seen {
		used[id] = struct{}{}
	}
	return nil
}
