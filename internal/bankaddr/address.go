package bankaddr

import "fmt"

// BankAddress is a position in the banked address space, expressed as a bank and an offset within
// that bank. Either part may be unassigned while a layout is still being decided. The zero value is
// Unassigned.
//
// BankAddress is a value type: arithmetic returns new addresses and == compares both parts.
// Constructors and setters reject impossible values with an error, while arithmetic that depends
// on an overflow policy reports an address that does not fit with ok == false.
type BankAddress struct {
	bank   Bank
	offset Offset
}

var (
	Unassigned = BankAddress{}
	Zero       = BankAddress{bank: Bank{index: 0, assigned: true}, offset: Offset{value: 0, assigned: true}}
)

// New returns the full address at offset within bank.
func New(bank, offset int) (BankAddress, error) {
	var a BankAddress
	if err := a.SetBank(bank); err != nil {
		return Unassigned, err
	}
	if err := a.SetOffset(offset); err != nil {
		return Unassigned, err
	}
	return a, nil
}

// MustNew is New for addresses known to be valid, it panics otherwise.
func MustNew(bank, offset int) BankAddress {
	a, err := New(bank, offset)
	if err != nil {
		panic(err)
	}
	return a
}

// FromParts joins an already validated bank and offset, either of which may be unassigned.
func FromParts(bank Bank, offset Offset) BankAddress {
	return BankAddress{bank: bank, offset: offset}
}

// FromGlobal decomposes a linear address into its bank and offset.
func FromGlobal(global int) (BankAddress, error) {
	if global < 0 || global >= TotalSize {
		return Unassigned, fmt.Errorf("%w: %d is not in [0, %d)", ErrInvalidAddress, global, TotalSize)
	}
	return New(DetermineBank(global), ToBankOffset(global))
}

func (a BankAddress) Bank() Bank {
	return a.bank
}

func (a BankAddress) Offset() Offset {
	return a.offset
}

// SetBank replaces the bank, leaving the address unchanged if index is not a valid bank.
func (a *BankAddress) SetBank(index int) error {
	b, err := NewBank(index)
	if err != nil {
		return err
	}
	a.bank = b
	return nil
}

// SetOffset replaces the in-bank offset, leaving the address unchanged if value is out of range.
func (a *BankAddress) SetOffset(value int) error {
	o, err := NewOffset(value)
	if err != nil {
		return err
	}
	a.offset = o
	return nil
}

// WithBank returns a copy of the address in another bank. Passing UnassignedBank clears the bank.
func (a BankAddress) WithBank(bank Bank) BankAddress {
	a.bank = bank
	return a
}

// WithOffset returns a copy of the address at another offset. Passing UnassignedOffset clears it.
func (a BankAddress) WithOffset(offset Offset) BankAddress {
	a.offset = offset
	return a
}

// AtStartOfBank returns the address at offset 0 of the same bank.
func (a BankAddress) AtStartOfBank() BankAddress {
	a.offset = Offset{value: 0, assigned: true}
	return a
}

// AtStartOfNextBank returns offset 0 of the following bank, ok is false if there is no such bank.
func (a BankAddress) AtStartOfNextBank() (BankAddress, bool) {
	bank, ok := a.bank.Index()
	if !ok || !isBankInRange(bank+1) {
		return Unassigned, false
	}
	return BankAddress{
		bank:   Bank{index: uint8(bank + 1), assigned: true},
		offset: Offset{value: 0, assigned: true},
	}, true
}

// OffsettedWithinBank moves the offset by n without ever changing bank.
func (a BankAddress) OffsettedWithinBank(n int) (BankAddress, bool) {
	offset, ok := a.offset.Value()
	if !ok || !isOffsetInRange(offset+n) {
		return Unassigned, false
	}
	a.offset = Offset{value: uint16(offset + n), assigned: true}
	return a, true
}

// OffsetWithinBank is the in-place form of OffsettedWithinBank. The address is left unchanged
// when the move would leave the bank.
func (a *BankAddress) OffsetWithinBank(n int) bool {
	moved, ok := a.OffsettedWithinBank(n)
	if !ok {
		return false
	}
	*a = moved
	return true
}

// Sum adds the parts of toAdd selected by use and applies limit to any offset overflow.
//
// The parts taking part in the sum must be assigned on both addresses. Parts that do not take part
// are copied from a unchanged, assigned or not. ok is false whenever limit rejects the result or
// the result would need an unassigned part.
func (a BankAddress) Sum(toAdd BankAddress, use ToUseType, limit LimitType) (BankAddress, bool) {
	bank, bankOK := a.bank.Index()
	offset, offsetOK := a.offset.Value()
	addBank, addBankOK := toAdd.bank.Index()
	addOffset, addOffsetOK := toAdd.offset.Value()

	bankSum, offsetSum := bank, offset
	switch use {
	case BankOnly:
		if !bankOK || !addBankOK {
			return Unassigned, false
		}
		bankSum += addBank
	case AddressInBankOnly:
		if !offsetOK || !addOffsetOK {
			return Unassigned, false
		}
		offsetSum += addOffset
	default:
		if !a.IsFull() || !toAdd.IsFull() {
			return Unassigned, false
		}
		bankSum += addBank
		offsetSum += addOffset
	}

	if offsetOK && !isOffsetInRange(offsetSum) {
		// Overflow moves into the next bank, so the bank has to be known
		if !bankOK {
			return Unassigned, false
		}
		switch limit {
		case InValidRanges:
			bankSum++
			offsetSum -= BankSize
		case WithinBankOrStartOfNext:
			if offsetSum != BankSize {
				return Unassigned, false
			}
			bankSum++
			offsetSum = 0
		default:
			return Unassigned, false
		}
	}

	if bankOK {
		switch limit {
		case WithinBank:
			if bankSum != bank {
				return Unassigned, false
			}
		case WithinBankOrStartOfNext:
			startOfNext := bankSum == bank+1 && offsetOK && offsetSum == 0
			if bankSum != bank && !startOfNext {
				return Unassigned, false
			}
		}
		if !isBankInRange(bankSum) {
			return Unassigned, false
		}
	}

	result := a
	if bankOK {
		result.bank = Bank{index: uint8(bankSum), assigned: true}
	}
	if offsetOK {
		result.offset = Offset{value: uint16(offsetSum), assigned: true}
	}
	return result, true
}

// Advance returns the address n bytes after a, applying limit to any bank crossing.
func (a BankAddress) Advance(n int, limit LimitType) (BankAddress, bool) {
	if !a.IsFull() || n < 0 || n >= TotalSize {
		return Unassigned, false
	}
	if n == 0 {
		return a, true
	}
	delta, err := FromGlobal(n)
	if err != nil {
		return Unassigned, false
	}
	return a.Sum(delta, BankAndAddressInBank, limit)
}

// AbsoluteDifferenceBetween returns the distance between two full addresses as an address
// built from that many linear bytes.
func (a BankAddress) AbsoluteDifferenceBetween(other BankAddress) (BankAddress, bool) {
	diff, ok := a.Difference(other)
	if !ok {
		return Unassigned, false
	}
	if diff < 0 {
		diff = -diff
	}
	abs, err := FromGlobal(diff)
	if err != nil {
		return Unassigned, false
	}
	return abs, true
}

// Difference returns the signed number of bytes from a to other. ok is false unless both are full.
func (a BankAddress) Difference(other BankAddress) (int, bool) {
	if !a.IsFull() || !other.IsFull() {
		return 0, false
	}
	return (int(other.bank.index)-int(a.bank.index))*BankSize +
		int(other.offset.value) - int(a.offset.value), true
}

// DifferenceAsRange returns the smallest range spanning both addresses, in either order. Equal
// addresses give the one byte range at that address.
func (a BankAddress) DifferenceAsRange(other BankAddress) (AddressRange, bool) {
	global, ok := a.Global()
	if !ok {
		return EmptyRange, false
	}
	otherGlobal, ok := other.Global()
	if !ok {
		return EmptyRange, false
	}
	return NewAddressRange(global, otherGlobal), true
}

// Global returns the linear address, ok is false unless the address is full.
func (a BankAddress) Global() (int, bool) {
	if !a.IsFull() {
		return 0, false
	}
	return ToGlobalAddress(int(a.bank.index), int(a.offset.value)), true
}

func (a BankAddress) IsFull() bool {
	return a.bank.assigned && a.offset.assigned
}

func (a BankAddress) IsBankUnassigned() bool {
	return !a.bank.assigned
}

func (a BankAddress) IsOffsetUnassigned() bool {
	return !a.offset.assigned
}

func (a BankAddress) IsSameBank(other BankAddress) bool {
	return a.bank == other.bank
}

// FitsWithOffset reports whether a run of n bytes starting at this address stays inside its bank.
// The check is inclusive: one byte still fits at the last offset of a bank, and a whole bank fits
// at offset 0.
func (a BankAddress) FitsWithOffset(n int) bool {
	offset, ok := a.offset.Value()
	if !ok {
		return false
	}
	if n <= 0 {
		return true
	}
	return isOffsetInRange(offset + n - 1)
}

func (a BankAddress) String() string {
	if !a.IsFull() {
		return fmt.Sprintf("%s:%s", a.bank, a.offset)
	}
	global, _ := a.Global()
	return fmt.Sprintf("0x%x:%04x(%d)", a.bank.index, int(a.offset.value)+SwitchableWindow, global)
}
