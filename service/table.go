package service

import (
	"sync"

	"github.com/collapsinghierarchy/hpkebridge/pkc/hpke"
)

// Handle is the opaque 64-bit context identifier handed across the binding
// boundary: generation in the high 32 bits, slot index in the low 32.
// Generations start at 1, so the zero Handle is never valid, and a freed
// slot's generation bump makes every stale handle to it miss.
type Handle uint64

func makeHandle(gen, idx uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(idx))
}

func (h Handle) split() (gen, idx uint32) {
	return uint32(uint64(h) >> 32), uint32(uint64(h) & 0xffffffff)
}

// slot owns at most one live HPKE context. The slot mutex serializes
// seal/open per context, which the engine itself does not do.
type slot struct {
	mu   sync.Mutex
	gen  uint32
	live bool

	sender    *hpke.Sender
	recipient *hpke.Recipient
}

func (s *slot) closeContexts() {
	if s.sender != nil {
		s.sender.Close()
		s.sender = nil
	}
	if s.recipient != nil {
		s.recipient.Close()
		s.recipient = nil
	}
}

// contextTable is the arena backing all live handles. A single table-wide
// lock guards slot allocation and lookup; call frequency is low relative to
// the crypto work behind each call.
type contextTable struct {
	mu    sync.Mutex
	slots []*slot
	free  []uint32
}

func newContextTable() *contextTable {
	return &contextTable{}
}

// insert allocates an empty slot and returns its handle. The table lock
// only covers slot selection; liveness and generation are slot state and
// must be touched under the slot lock, or reuse of a freed slot races
// against a stale-handle lookup of the same slot.
func (t *contextTable) insert() Handle {
	t.mu.Lock()
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, &slot{gen: 1})
		idx = uint32(len(t.slots) - 1)
	}
	s := t.slots[idx]
	t.mu.Unlock()

	s.mu.Lock()
	s.live = true
	h := makeHandle(s.gen, idx)
	s.mu.Unlock()
	return h
}

// acquire resolves a handle and returns its slot with the slot lock held.
// The generation is re-checked under the slot lock, so a concurrent free
// between table lookup and acquisition still surfaces as ErrInvalidHandle.
func (t *contextTable) acquire(h Handle) (*slot, error) {
	gen, idx := h.split()

	t.mu.Lock()
	if int(idx) >= len(t.slots) {
		t.mu.Unlock()
		return nil, ErrInvalidHandle
	}
	s := t.slots[idx]
	t.mu.Unlock()

	s.mu.Lock()
	if !s.live || s.gen != gen {
		s.mu.Unlock()
		return nil, ErrInvalidHandle
	}
	return s, nil
}

// remove frees a handle's slot, zeroing the context's key material.
// Unknown or already-freed handles are a no-op, which makes the binding's
// freeContext idempotent.
func (t *contextTable) remove(h Handle) {
	s, err := t.acquire(h)
	if err != nil {
		return
	}
	s.closeContexts()
	s.gen++
	s.live = false
	_, idx := h.split()
	s.mu.Unlock()

	t.mu.Lock()
	t.free = append(t.free, idx)
	t.mu.Unlock()
}

// drain frees every live slot. Shutdown path; zeroes all key material.
func (t *contextTable) drain() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for idx, s := range t.slots {
		s.mu.Lock()
		if s.live {
			s.closeContexts()
			s.gen++
			s.live = false
			t.free = append(t.free, uint32(idx))
		}
		s.mu.Unlock()
	}
}
