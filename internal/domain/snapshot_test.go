package domain

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addrs(ss ...string) []netip.Addr {
	out := make([]netip.Addr, len(ss))
	for i, s := range ss {
		out[i] = netip.MustParseAddr(s)
	}
	return out
}

func TestNewSnapshotOrdersAndDedups(t *testing.T) {
	s := NewSnapshot(map[string][]netip.Addr{
		"web.docker":  addrs("10.0.0.9", "10.0.0.2", "10.0.0.9"),
		"api.docker":  addrs("fd00::1", "10.0.0.3"),
		"none.docker": nil,
	})

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "api.docker", entries[0].Name)
	assert.Equal(t, addrs("10.0.0.3", "fd00::1"), entries[0].Addresses)
	assert.Equal(t, "web.docker", entries[1].Name)
	assert.Equal(t, addrs("10.0.0.2", "10.0.0.9"), entries[1].Addresses)
}

func TestSnapshotIsImmutable(t *testing.T) {
	s := NewSnapshot(map[string][]netip.Addr{"web.docker": addrs("10.0.0.2")})
	entries := s.Entries()
	entries[0].Addresses[0] = netip.MustParseAddr("10.9.9.9")
	entries[0].Name = "changed"

	got, ok := s.Lookup("web.docker")
	require.True(t, ok)
	assert.Equal(t, addrs("10.0.0.2"), got)
}

func TestSnapshotEqual(t *testing.T) {
	a := NewSnapshot(map[string][]netip.Addr{"web.docker": addrs("10.0.0.2", "10.0.0.3")})
	b := NewSnapshot(map[string][]netip.Addr{"web.docker": addrs("10.0.0.3", "10.0.0.2")})
	c := NewSnapshot(map[string][]netip.Addr{"web.docker": addrs("10.0.0.2")})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, Snapshot{}.Equal(NewSnapshot(nil)))
}

func TestSnapshotLookupMissing(t *testing.T) {
	_, ok := NewSnapshot(nil).Lookup("web.docker")
	assert.False(t, ok)
}
