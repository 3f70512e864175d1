package manifest

import (
	"fmt"

	"github.com/garethgeorge/banklayout/internal/bankaddr"
	"github.com/garethgeorge/banklayout/internal/freespace"
	"github.com/garethgeorge/banklayout/internal/layout"
	"github.com/garethgeorge/banklayout/internal/output"
	"github.com/garethgeorge/banklayout/internal/registry"
	"github.com/garethgeorge/banklayout/internal/writer"
)

// Block is a placed block and the range it reserved.
type Block struct {
	ID       string
	Span     bankaddr.AddressRange
	Segments []string
}

// Manifest describes a written image: where every id ended up, what was written where, and the
// digests of the result.
type Manifest struct {
	BankSize      int
	NumberOfBanks int
	Filler        byte

	Addresses []registry.Entry
	Blocks    []Block
	Segments  []writer.Segment
	Digests   output.Digests
}

// Build collects a manifest from a written layout.
func Build(l *layout.Layout, img *writer.Image, filler byte, digests output.Digests) *Manifest {
	m := &Manifest{
		BankSize:      bankaddr.BankSize,
		NumberOfBanks: bankaddr.NumberOfBanks,
		Filler:        filler,
		Segments:      img.Segments(),
		Digests:       digests,
	}
	for id, addr := range l.Registry().All() {
		m.Addresses = append(m.Addresses, registry.Entry{ID: id, Address: addr})
	}
	for _, p := range l.Placements() {
		m.Blocks = append(m.Blocks, Block{ID: p.ID, Span: p.Span, Segments: p.Segments})
	}
	return m
}

// Registry rebuilds the address registry the image was written from.
func (m *Manifest) Registry() *registry.AssignedAddresses {
	reg := registry.New()
	for _, e := range m.Addresses {
		reg.Put(e.ID, e.Address)
	}
	return reg
}

// BankFreeBytes returns the bytes of every bank not reserved by a block. Overlapping spans mean the
// manifest was edited or corrupted and are reported as an error.
func (m *Manifest) BankFreeBytes() ([]int, error) {
	space := freespace.NewAddressSpace()
	for _, b := range m.Blocks {
		if err := space.MarkAllocated(b.Span); err != nil {
			return nil, fmt.Errorf("block %q span %v: %w", b.ID, b.Span, err)
		}
	}
	free := make([]int, m.NumberOfBanks)
	for bank := range free {
		free[bank] = space.BankFreeBytes(bank)
	}
	return free, nil
}
