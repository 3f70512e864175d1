package bankaddr

import "fmt"

// Bank is either a bank index or unassigned. The zero value is unassigned.
type Bank struct {
	index    uint8
	assigned bool
}

// UnassignedBank is the bank of an address that has not been placed in a bank yet.
var UnassignedBank = Bank{}

// NewBank returns the bank with the given index.
func NewBank(index int) (Bank, error) {
	if !isBankInRange(index) {
		return UnassignedBank, fmt.Errorf("%w: %d is not in [0, %d)", ErrInvalidBank, index, NumberOfBanks)
	}
	return Bank{index: uint8(index), assigned: true}, nil
}

// MustBank is NewBank for indices known to be valid, it panics otherwise.
func MustBank(index int) Bank {
	b, err := NewBank(index)
	if err != nil {
		panic(err)
	}
	return b
}

// Index returns the bank index, ok is false if the bank is unassigned.
func (b Bank) Index() (index int, ok bool) {
	return int(b.index), b.assigned
}

func (b Bank) IsAssigned() bool {
	return b.assigned
}

func (b Bank) String() string {
	if !b.assigned {
		return "unassigned"
	}
	return fmt.Sprintf("0x%x", b.index)
}

// Offset is either a position within a bank or unassigned. The zero value is unassigned.
type Offset struct {
	value    uint16
	assigned bool
}

// UnassignedOffset is the offset of an address whose position in its bank is not known yet.
var UnassignedOffset = Offset{}

// NewOffset returns the in-bank offset with the given value.
func NewOffset(value int) (Offset, error) {
	if !isOffsetInRange(value) {
		return UnassignedOffset, fmt.Errorf("%w: 0x%x is not in [0, 0x%x)", ErrInvalidOffset, value, BankSize)
	}
	return Offset{value: uint16(value), assigned: true}, nil
}

// Value returns the offset, ok is false if the offset is unassigned.
func (o Offset) Value() (value int, ok bool) {
	return int(o.value), o.assigned
}

func (o Offset) IsAssigned() bool {
	return o.assigned
}

func (o Offset) String() string {
	if !o.assigned {
		return "unassigned"
	}
	return fmt.Sprintf("0x%04x", o.value)
}
