package domain

import (
	"net/netip"
	"slices"
	"strings"
)

// HostEntry maps one domain name to the addresses it resolves to.
type HostEntry struct {
	Name      string
	Addresses []netip.Addr
}

// Snapshot is an immutable view of the published name to address mapping,
// ordered by domain name. Addresses within an entry are sorted and unique.
type Snapshot struct {
	entries []HostEntry
}

// NewSnapshot builds a snapshot from a name to addresses map. Names without
// any valid address are dropped.
func NewSnapshot(m map[string][]netip.Addr) Snapshot {
	entries := make([]HostEntry, 0, len(m))
	for name, addrs := range m {
		clean := make([]netip.Addr, 0, len(addrs))
		for _, a := range addrs {
			if a.IsValid() {
				clean = append(clean, a.Unmap())
			}
		}
		if len(clean) == 0 {
			continue
		}
		slices.SortFunc(clean, func(a, b netip.Addr) int { return a.Compare(b) })
		entries = append(entries, HostEntry{Name: name, Addresses: slices.Compact(clean)})
	}
	slices.SortFunc(entries, func(a, b HostEntry) int { return strings.Compare(a.Name, b.Name) })
	return Snapshot{entries: entries}
}

// Entries returns a copy of the snapshot entries in order.
func (s Snapshot) Entries() []HostEntry {
	out := make([]HostEntry, len(s.entries))
	for i, e := range s.entries {
		out[i] = HostEntry{Name: e.Name, Addresses: slices.Clone(e.Addresses)}
	}
	return out
}

func (s Snapshot) Len() int {
	return len(s.entries)
}

// Lookup returns the addresses published for name.
func (s Snapshot) Lookup(name string) ([]netip.Addr, bool) {
	i, ok := slices.BinarySearchFunc(s.entries, name, func(e HostEntry, n string) int {
		return strings.Compare(e.Name, n)
	})
	if !ok {
		return nil, false
	}
	return slices.Clone(s.entries[i].Addresses), true
}

func (s Snapshot) Equal(o Snapshot) bool {
	return slices.EqualFunc(s.entries, o.entries, func(a, b HostEntry) bool {
		return a.Name == b.Name && slices.Equal(a.Addresses, b.Addresses)
	})
}
