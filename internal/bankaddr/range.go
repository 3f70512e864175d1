package bankaddr

import "fmt"

var EmptyRange = AddressRange{Start: 0, End: 0}

// AddressRange is a half-open range of linear addresses.
type AddressRange struct {
	Start int // inclusive
	End   int // exclusive
}

// NewAddressRange orders two linear addresses into a range. Equal addresses produce the one byte
// range starting at that address.
func NewAddressRange(a, b int) AddressRange {
	switch {
	case a < b:
		return AddressRange{Start: a, End: b}
	case a > b:
		return AddressRange{Start: b, End: a}
	default:
		return AddressRange{Start: a, End: a + 1}
	}
}

func (r AddressRange) Size() int {
	return r.End - r.Start
}

func (r AddressRange) IsEmpty() bool {
	return r.End <= r.Start
}

func (r AddressRange) Less(other AddressRange) bool {
	return r.Start < other.Start
}

func (r AddressRange) Overlaps(other AddressRange) bool {
	return r.Start < other.End && other.Start < r.End
}

func (r AddressRange) Adjacent(other AddressRange) bool {
	return r.End == other.Start || other.End == r.Start
}

// Contains reports whether the linear address lies inside the range.
func (r AddressRange) Contains(global int) bool {
	return r.Start <= global && global < r.End
}

// ContainsRange reports whether other lies entirely inside the range.
func (r AddressRange) ContainsRange(other AddressRange) bool {
	return r.Start <= other.Start && other.End <= r.End
}

// Intersect returns the overlapping part of both ranges, or EmptyRange.
func (r AddressRange) Intersect(other AddressRange) AddressRange {
	start := max(r.Start, other.Start)
	end := min(r.End, other.End)
	if end <= start {
		return EmptyRange
	}
	return AddressRange{Start: start, End: end}
}

func (r AddressRange) Merge(other AddressRange) AddressRange {
	if !r.Overlaps(other) && !r.Adjacent(other) {
		panic("cannot merge non-overlapping, non-adjacent ranges")
	}
	return AddressRange{Start: min(r.Start, other.Start), End: max(r.End, other.End)}
}

// BankRange returns the range of linear addresses covered by a bank.
func BankRange(bank int) AddressRange {
	return AddressRange{Start: bank * BankSize, End: (bank + 1) * BankSize}
}

func (r AddressRange) String() string {
	return fmt.Sprintf("[0x%x, 0x%x)", r.Start, r.End)
}
