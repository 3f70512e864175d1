package freespace

import (
	"fmt"
	"iter"

	"github.com/garethgeorge/banklayout/internal/bankaddr"
	"github.com/google/btree"
)

// Map tracks which linear addresses of a domain are still free.
// It is not thread-safe.
type Map struct {
	Domain            bankaddr.AddressRange
	AvailableCapacity int

	// FreeList tracks free ranges, ordered by start address.
	FreeList *btree.BTreeG[bankaddr.AddressRange]
}

// New returns a Map in which the whole domain is free.
func New(domain bankaddr.AddressRange) *Map {
	m := &Map{
		Domain:   domain,
		FreeList: btree.NewG[bankaddr.AddressRange](32, func(a, b bankaddr.AddressRange) bool { return a.Start < b.Start }),
	}
	m.addFreeRange(domain)
	m.AvailableCapacity = max(domain.Size(), 0)
	return m
}

// NewAddressSpace returns a Map covering every bank.
func NewAddressSpace() *Map {
	return New(bankaddr.AddressRange{Start: 0, End: bankaddr.TotalSize})
}

func (m *Map) addFreeRange(r bankaddr.AddressRange) {
	if r.Size() <= 0 {
		return
	}
	m.FreeList.ReplaceOrInsert(r)
}

func (m *Map) removeFreeRange(r bankaddr.AddressRange) {
	m.FreeList.Delete(r)
}

func (m *Map) findContainingFreeRange(r bankaddr.AddressRange) (bankaddr.AddressRange, bool) {
	var containing bankaddr.AddressRange
	var found bool
	m.FreeList.DescendLessOrEqual(bankaddr.AddressRange{Start: r.Start}, func(item bankaddr.AddressRange) bool {
		if item.End >= r.End {
			containing = item
			found = true
		}
		return false
	})
	return containing, found
}

// IsRangeFree returns true if the entire given range is free.
func (m *Map) IsRangeFree(r bankaddr.AddressRange) bool {
	if r.Size() <= 0 {
		return true
	}
	_, found := m.findContainingFreeRange(r)
	return found
}

// MarkAllocated marks the given ranges as used. Ranges are applied in order; on error the ranges
// before the failing one stay allocated.
func (m *Map) MarkAllocated(ranges ...bankaddr.AddressRange) error {
	for _, r := range ranges {
		if r.Size() <= 0 {
			continue
		}

		containing, found := m.findContainingFreeRange(r)
		if !found {
			return fmt.Errorf("%w: %v is not in a free range", ErrAlreadyAllocated, r)
		}

		m.removeFreeRange(containing)
		m.AvailableCapacity -= r.Size()

		// Add back remaining parts of the split free range
		if containing.Start < r.Start {
			m.addFreeRange(bankaddr.AddressRange{Start: containing.Start, End: r.Start})
		}
		if containing.End > r.End {
			m.addFreeRange(bankaddr.AddressRange{Start: r.End, End: containing.End})
		}
	}
	return nil
}

// Free marks a previously allocated range as free, merging with adjacent free ranges if possible.
func (m *Map) Free(r bankaddr.AddressRange) error {
	if r.Size() <= 0 {
		return nil
	}
	if !m.Domain.ContainsRange(r) {
		return fmt.Errorf("%w: %v is outside of %v", ErrNotAllocated, r, m.Domain)
	}

	// Any free address inside r means it was never fully allocated
	overlapsFree := false
	m.FreeList.DescendLessOrEqual(bankaddr.AddressRange{Start: r.End - 1}, func(item bankaddr.AddressRange) bool {
		if item.End <= r.Start {
			return false
		}
		overlapsFree = true
		return false
	})
	if overlapsFree {
		return fmt.Errorf("%w: %v is at least partially free (double free?)", ErrNotAllocated, r)
	}

	merged := r

	var before bankaddr.AddressRange
	var foundBefore bool
	m.FreeList.DescendLessOrEqual(bankaddr.AddressRange{Start: r.Start}, func(item bankaddr.AddressRange) bool {
		if item.End == r.Start {
			before = item
			foundBefore = true
		}
		return false
	})
	if foundBefore {
		m.removeFreeRange(before)
		merged = merged.Merge(before)
	}

	after, foundAfter := m.FreeList.Get(bankaddr.AddressRange{Start: r.End})
	if foundAfter {
		m.removeFreeRange(after)
		merged = merged.Merge(after)
	}

	m.addFreeRange(merged)
	m.AvailableCapacity += r.Size()
	return nil
}

// FindInBank returns the lowest free run of size bytes starting inside bank. Unless crossBank is
// set the run must also end inside the bank (ending exactly at the bank boundary is allowed).
// Nothing is marked as allocated.
func (m *Map) FindInBank(bank, size int, crossBank bool) (bankaddr.AddressRange, bool) {
	bankRange := bankaddr.BankRange(bank)
	var result bankaddr.AddressRange
	var found bool

	check := func(item bankaddr.AddressRange) bool {
		if item.Start >= bankRange.End {
			return false
		}
		start := max(item.Start, bankRange.Start)
		end := item.End
		if !crossBank {
			end = min(end, bankRange.End)
		}
		if end-start >= size && (size > 0 || start < end) {
			result = bankaddr.AddressRange{Start: start, End: start + size}
			found = true
			return false
		}
		return true
	}

	// The free range holding the start of the bank may begin in an earlier bank
	keepGoing := true
	m.FreeList.DescendLessOrEqual(bankaddr.AddressRange{Start: bankRange.Start}, func(item bankaddr.AddressRange) bool {
		if item.End > bankRange.Start {
			keepGoing = check(item)
		}
		return false
	})
	if found || !keepGoing {
		return result, found
	}

	m.FreeList.AscendGreaterOrEqual(bankaddr.AddressRange{Start: bankRange.Start + 1}, check)
	return result, found
}

// BankFreeBytes returns how many bytes of bank are still free.
func (m *Map) BankFreeBytes(bank int) int {
	bankRange := bankaddr.BankRange(bank)
	total := 0
	for r := range m.IterFree() {
		total += r.Intersect(bankRange).Size()
	}
	return total
}

// IterFree yields free ranges in address order.
func (m *Map) IterFree() iter.Seq[bankaddr.AddressRange] {
	return func(yield func(bankaddr.AddressRange) bool) {
		m.FreeList.Ascend(func(item bankaddr.AddressRange) bool {
			return yield(item)
		})
	}
}

// IterAllocs yields the allocated ranges in address order, with touching allocations merged.
func (m *Map) IterAllocs() iter.Seq[bankaddr.AddressRange] {
	return func(yield func(bankaddr.AddressRange) bool) {
		prevEnd := m.Domain.Start
		stopped := false
		m.FreeList.Ascend(func(item bankaddr.AddressRange) bool {
			if item.Start > prevEnd {
				if !yield(bankaddr.AddressRange{Start: prevEnd, End: item.Start}) {
					stopped = true
					return false
				}
			}
			prevEnd = item.End
			return true
		})
		if !stopped && prevEnd < m.Domain.End {
			yield(bankaddr.AddressRange{Start: prevEnd, End: m.Domain.End})
		}
	}
}
