// Package proxypool tracks per-proxy concurrency for a validation batch.
package proxypool

import (
	"fmt"
	"strings"
	"sync"
)

// DirectAddress is the address of the entry that connects without a proxy.
const DirectAddress = ""

// Spec describes one pool member before use. Capacity <= 0 means "use the
// pool default".
type Spec struct {
	Address  string `json:"address"`
	Capacity int    `json:"capacity,omitempty"`
}

// Entry is a proxy slot: an address, how many validations it may carry at
// once and how many it currently carries. 0 <= InUse <= Capacity always.
type Entry struct {
	Address  string `json:"address"`
	Capacity int    `json:"capacity"`
	InUse    int    `json:"in_use"`
}

// Pool is an ordered set of entries. Selection is first-fit in insertion
// order so runs are deterministic.
type Pool struct {
	mu      sync.Mutex
	entries []*Entry
}

// New builds a pool from specs. Duplicate addresses keep their first
// position. An empty spec list yields a single direct entry.
func New(specs []Spec, defaultCapacity int) *Pool {
	if defaultCapacity < 1 {
		defaultCapacity = 1
	}
	p := &Pool{}
	seen := make(map[string]struct{}, len(specs))
	for _, s := range specs {
		addr := strings.TrimSpace(s.Address)
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		capacity := s.Capacity
		if capacity < 1 {
			capacity = defaultCapacity
		}
		p.entries = append(p.entries, &Entry{Address: addr, Capacity: capacity})
	}
	if len(p.entries) == 0 {
		p.entries = append(p.entries, &Entry{Address: DirectAddress, Capacity: defaultCapacity})
	}
	return p
}

// Len returns the number of entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// TotalCapacity is the sum of all entry capacities.
func (p *Pool) TotalCapacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, e := range p.entries {
		total += e.Capacity
	}
	return total
}

// Acquire takes a slot on the first entry with spare capacity.
func (p *Pool) Acquire() (slot int, address string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.entries {
		if e.InUse < e.Capacity {
			e.InUse++
			return i, e.Address, true
		}
	}
	return -1, "", false
}

// Release returns a slot taken by Acquire. Releasing an idle entry is an
// accounting bug and panics.
func (p *Pool) Release(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot < 0 || slot >= len(p.entries) {
		panic(fmt.Sprintf("proxypool: release of unknown slot %d", slot))
	}
	e := p.entries[slot]
	if e.InUse == 0 {
		panic(fmt.Sprintf("proxypool: release of idle entry %q", e.Address))
	}
	e.InUse--
}

// HasFree reports whether any entry has spare capacity.
func (p *Pool) HasFree() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.InUse < e.Capacity {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the entries for display.
func (p *Pool) Snapshot() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entry, len(p.entries))
	for i, e := range p.entries {
		out[i] = *e
	}
	return out
}
