package writer

import (
	"fmt"

	"github.com/garethgeorge/banklayout/internal/bankaddr"
)

// SegmentedWriter is the sink single-run blocks write through.
type SegmentedWriter interface {
	// Append writes data at the current position and advances it.
	Append(data []byte) error
	// NewSegment moves the current position to addr.
	NewSegment(addr bankaddr.BankAddress) error
}

// QueuedWriter is the sink segmented blocks write through. Blocks are opened at their resolved
// address, optionally named and carrying reuse hints.
type QueuedWriter interface {
	Append(data []byte) error
	CurrentBlockName() string
	StartNewBlock(addr bankaddr.BankAddress, opts ...BlockOption) error
	// BlankUnusedSpace pads a reserved range that ended up without any bytes.
	BlankUnusedSpace(r bankaddr.AddressRange) error
}

// BlockOptions is what a sink learns about a block it is asked to start.
type BlockOptions struct {
	ReuseHints  []bankaddr.AddressRange
	SegmentName string
}

type BlockOption = func(*BlockOptions)

// ApplyBlockOptions resolves opts for QueuedWriter implementations.
func ApplyBlockOptions(opts ...BlockOption) BlockOptions {
	var o BlockOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithReuseHints marks ranges the new block may write over even if they were written before.
func WithReuseHints(hints ...bankaddr.AddressRange) BlockOption {
	return func(o *BlockOptions) {
		o.ReuseHints = append(o.ReuseHints, hints...)
	}
}

// WithSegmentName names the new block in listings.
func WithSegmentName(name string) BlockOption {
	return func(o *BlockOptions) {
		o.SegmentName = name
	}
}

// BlankUnusedSpaces blanks each range in turn, stopping at the first error.
func BlankUnusedSpaces(w QueuedWriter, ranges ...bankaddr.AddressRange) error {
	for _, r := range ranges {
		if err := w.BlankUnusedSpace(r); err != nil {
			return fmt.Errorf("blanking %v: %w", r, err)
		}
	}
	return nil
}
