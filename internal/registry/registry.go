package registry

import (
	"iter"

	"github.com/garethgeorge/banklayout/internal/bankaddr"
	"github.com/google/btree"
)

// Entry joins a block or segment id to its current, possibly partial, address.
type Entry struct {
	ID      string
	Address bankaddr.BankAddress
}

// internal type used by the address index, only full addresses are indexed.
type globalAndID struct {
	global int
	id     string
}

// AssignedAddresses records the best known address of every block and segment id taking part in a
// layout pass. Entries are absent until a bank or address is assigned and are removed again on
// rollback. It is not thread-safe.
type AssignedAddresses struct {
	entries   *btree.BTreeG[Entry]
	byAddress *btree.BTreeG[globalAndID]
}

func New() *AssignedAddresses {
	return &AssignedAddresses{
		entries: btree.NewG[Entry](32, func(a, b Entry) bool { return a.ID < b.ID }),
		byAddress: btree.NewG[globalAndID](32, func(a, b globalAndID) bool {
			if a.global != b.global {
				return a.global < b.global
			}
			return a.id < b.id
		}),
	}
}

func (r *AssignedAddresses) Len() int {
	return r.entries.Len()
}

// Get returns the address recorded for id, ok is false if there is no entry.
func (r *AssignedAddresses) Get(id string) (bankaddr.BankAddress, bool) {
	entry, ok := r.entries.Get(Entry{ID: id})
	if !ok {
		return bankaddr.Unassigned, false
	}
	return entry.Address, true
}

// Put records addr for id, replacing any previous entry.
func (r *AssignedAddresses) Put(id string, addr bankaddr.BankAddress) {
	r.Remove(id)
	r.entries.ReplaceOrInsert(Entry{ID: id, Address: addr})
	if global, ok := addr.Global(); ok {
		r.byAddress.ReplaceOrInsert(globalAndID{global: global, id: id})
	}
}

// PutBank records that id lives in bank without a known offset yet.
func (r *AssignedAddresses) PutBank(id string, bank bankaddr.Bank) {
	r.Put(id, bankaddr.FromParts(bank, bankaddr.UnassignedOffset))
}

// Remove deletes the entry for id and reports whether there was one.
func (r *AssignedAddresses) Remove(id string) bool {
	prev, ok := r.entries.Delete(Entry{ID: id})
	if !ok {
		return false
	}
	if global, ok := prev.Address.Global(); ok {
		r.byAddress.Delete(globalAndID{global: global, id: id})
	}
	return true
}

// All yields every entry ordered by id.
func (r *AssignedAddresses) All() iter.Seq2[string, bankaddr.BankAddress] {
	return func(yield func(string, bankaddr.BankAddress) bool) {
		r.entries.Ascend(func(item Entry) bool {
			return yield(item.ID, item.Address)
		})
	}
}

// ByAddress yields the entries that have a full address, in ascending address order. Ids sharing
// an address are yielded in id order.
func (r *AssignedAddresses) ByAddress() iter.Seq2[string, bankaddr.BankAddress] {
	return func(yield func(string, bankaddr.BankAddress) bool) {
		r.byAddress.Ascend(func(item globalAndID) bool {
			addr, _ := bankaddr.FromGlobal(item.global)
			return yield(item.id, addr)
		})
	}
}
