package block

import (
	"fmt"

	"github.com/garethgeorge/banklayout/internal/bankaddr"
	"github.com/garethgeorge/banklayout/internal/registry"
)

// Payload produces the bytes of a block or segment. at is the owner's current registry entry,
// which may still be partial when sizing.
type Payload interface {
	// WorstCaseSize must never be smaller than the length of a later Encode.
	WorstCaseSize(at bankaddr.BankAddress, reg *registry.AssignedAddresses) int
	Encode(at bankaddr.BankAddress, reg *registry.AssignedAddresses) ([]byte, error)
}

// Bytes is a fixed payload.
type Bytes []byte

func (b Bytes) WorstCaseSize(bankaddr.BankAddress, *registry.AssignedAddresses) int {
	return len(b)
}

func (b Bytes) Encode(bankaddr.BankAddress, *registry.AssignedAddresses) ([]byte, error) {
	return append([]byte(nil), b...), nil
}

// Sequence concatenates payloads, each one encoded at its own position.
type Sequence []Payload

// WorstCaseSize sizes each part at every bank its start can fall in. Earlier parts may encode
// shorter than their bound, so a part starts anywhere between at and at plus the bounds before it.
func (s Sequence) WorstCaseSize(at bankaddr.BankAddress, reg *registry.AssignedAddresses) int {
	total := 0
	for _, p := range s {
		total += partWorstCaseSize(p, at, total, reg)
	}
	return total
}

func partWorstCaseSize(p Payload, at bankaddr.BankAddress, upTo int, reg *registry.AssignedAddresses) int {
	size := p.WorstCaseSize(at, reg)
	last, ok := at.Advance(upTo, bankaddr.InValidRanges)
	if !ok || last.IsSameBank(at) {
		return size
	}
	size = max(size, p.WorstCaseSize(last, reg))
	for pos, ok := at.AtStartOfNextBank(); ok && !pos.IsSameBank(last); pos, ok = pos.AtStartOfNextBank() {
		size = max(size, p.WorstCaseSize(pos, reg))
	}
	return size
}

func (s Sequence) Encode(at bankaddr.BankAddress, reg *registry.AssignedAddresses) ([]byte, error) {
	var out []byte
	for i, p := range s {
		partAt, ok := at.Advance(len(out), bankaddr.InValidRanges)
		if !ok {
			return nil, fmt.Errorf("%w: part %d of sequence at %v", bankaddr.ErrInvalidAddress, i, at)
		}
		data, err := p.Encode(partAt, reg)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		out = append(out, data...)
	}
	return out, nil
}

// ReferenceEncoding decides how a pointer from one address to another is encoded. from and target
// may be partial while sizing.
type ReferenceEncoding interface {
	WorstCaseSize(from, target bankaddr.BankAddress) int
	Encode(from, target bankaddr.BankAddress) ([]byte, error)
}

// Reference is a pointer to the address of another block or segment.
type Reference struct {
	Target   string
	Encoding ReferenceEncoding
}

func (r Reference) WorstCaseSize(at bankaddr.BankAddress, reg *registry.AssignedAddresses) int {
	target, _ := reg.Get(r.Target)
	return r.Encoding.WorstCaseSize(at, target)
}

func (r Reference) Encode(at bankaddr.BankAddress, reg *registry.AssignedAddresses) ([]byte, error) {
	target, ok := reg.Get(r.Target)
	if !ok || !target.IsFull() {
		return nil, fmt.Errorf("%w: reference target %q", ErrNotPlaced, r.Target)
	}
	return r.Encoding.Encode(at, target)
}

// HomeBank is the bank that is always mapped below the switchable window.
const HomeBank = 0

// BankedPointer encodes a little endian CPU address, prefixed with the target bank unless the
// target is reachable without switching banks: in the home bank or in the same bank as the pointer.
type BankedPointer struct{}

const (
	nearPointerSize = 2
	farPointerSize  = 3
)

func (BankedPointer) isNear(from, target bankaddr.BankAddress) bool {
	if target.IsBankUnassigned() {
		return false
	}
	if bank, _ := target.Bank().Index(); bank == HomeBank {
		return true
	}
	return !from.IsBankUnassigned() && from.IsSameBank(target)
}

func (p BankedPointer) WorstCaseSize(from, target bankaddr.BankAddress) int {
	if p.isNear(from, target) {
		return nearPointerSize
	}
	return farPointerSize
}

func (p BankedPointer) Encode(from, target bankaddr.BankAddress) ([]byte, error) {
	bank, ok := target.Bank().Index()
	if !ok {
		return nil, fmt.Errorf("%w: pointer target %v", ErrNotPlaced, target)
	}
	offset, ok := target.Offset().Value()
	if !ok {
		return nil, fmt.Errorf("%w: pointer target %v", ErrNotPlaced, target)
	}
	cpu := offset
	if bank != HomeBank {
		cpu += bankaddr.SwitchableWindow
	}
	lo, hi := byte(cpu), byte(cpu>>8)
	if p.isNear(from, target) {
		return []byte{lo, hi}, nil
	}
	return []byte{byte(bank), lo, hi}, nil
}
