package memory

import (
	"errors"
	"fmt"

	"custodyledger/pkg/domain"
)

// ErrInconsistentIndex reports a stage index operation that contradicts the
// recorded membership, e.g. removing an id from a bucket it is not in.
var ErrInconsistentIndex = errors.New("stage index inconsistent")

// slot locates a product inside its stage bucket.
type slot struct {
	status domain.ProductStatus
	pos    int
}

// stageIndex is the committed per-status index: a dense id list per status
// plus a lookup from id to its bucket position, so removal is a constant time
// swap with the bucket's last element.
type stageIndex struct {
	buckets map[domain.ProductStatus][]uint64
	slots   map[uint64]slot
}

func newStageIndex() *stageIndex {
	return &stageIndex{
		buckets: make(map[domain.ProductStatus][]uint64),
		slots:   make(map[uint64]slot),
	}
}

func (ix *stageIndex) list(status domain.ProductStatus) []uint64 {
	return append([]uint64(nil), ix.buckets[status]...)
}

func (ix *stageIndex) lookup(id uint64) (slot, bool) {
	s, ok := ix.slots[id]
	return s, ok
}

// rebuild restores positions from bucket contents, rejecting duplicates.
func (ix *stageIndex) rebuild() error {
	ix.slots = make(map[uint64]slot)
	for status, ids := range ix.buckets {
		for pos, id := range ids {
			if prev, dup := ix.slots[id]; dup {
				return fmt.Errorf("%w: product %d in %s and %s", ErrInconsistentIndex, id, prev.status, status)
			}
			ix.slots[id] = slot{status: status, pos: pos}
		}
	}
	return nil
}

// stageOverlay stages index edits for one transaction. Buckets are copied on
// first write so the committed index is untouched until apply.
type stageOverlay struct {
	base    *stageIndex
	buckets map[domain.ProductStatus][]uint64
	slots   map[uint64]slot
	removed map[uint64]struct{}
}

func newStageOverlay(base *stageIndex) *stageOverlay {
	return &stageOverlay{
		base:    base,
		buckets: make(map[domain.ProductStatus][]uint64),
		slots:   make(map[uint64]slot),
		removed: make(map[uint64]struct{}),
	}
}

func (o *stageOverlay) lookup(id uint64) (slot, bool) {
	if s, ok := o.slots[id]; ok {
		return s, true
	}
	if _, gone := o.removed[id]; gone {
		return slot{}, false
	}
	return o.base.lookup(id)
}

func (o *stageOverlay) list(status domain.ProductStatus) []uint64 {
	if b, ok := o.buckets[status]; ok {
		return append([]uint64(nil), b...)
	}
	return o.base.list(status)
}

func (o *stageOverlay) writable(status domain.ProductStatus) []uint64 {
	if b, ok := o.buckets[status]; ok {
		return b
	}
	b := o.base.list(status)
	o.buckets[status] = b
	return b
}

func (o *stageOverlay) add(id uint64, status domain.ProductStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, status)
	}
	if s, ok := o.lookup(id); ok {
		return fmt.Errorf("%w: product %d already indexed under %s", ErrInconsistentIndex, id, s.status)
	}
	b := o.writable(status)
	o.slots[id] = slot{status: status, pos: len(b)}
	o.buckets[status] = append(b, id)
	delete(o.removed, id)
	return nil
}

func (o *stageOverlay) remove(id uint64, status domain.ProductStatus) error {
	s, ok := o.lookup(id)
	if !ok {
		return fmt.Errorf("%w: product %d is not indexed", ErrInconsistentIndex, id)
	}
	if s.status != status {
		return fmt.Errorf("%w: product %d is indexed under %s, not %s", ErrInconsistentIndex, id, s.status, status)
	}
	b := o.writable(status)
	last := len(b) - 1
	moved := b[last]
	b[s.pos] = moved
	o.buckets[status] = b[:last]
	if moved != id {
		o.slots[moved] = slot{status: status, pos: s.pos}
	}
	delete(o.slots, id)
	o.removed[id] = struct{}{}
	return nil
}

// touched returns copies of every bucket written in this overlay.
func (o *stageOverlay) touched() map[domain.ProductStatus][]uint64 {
	out := make(map[domain.ProductStatus][]uint64, len(o.buckets))
	for status, b := range o.buckets {
		out[status] = append([]uint64(nil), b...)
	}
	return out
}

func (o *stageOverlay) apply(ix *stageIndex) {
	for status, b := range o.buckets {
		ix.buckets[status] = b
	}
	for id := range o.removed {
		delete(ix.slots, id)
	}
	for id, s := range o.slots {
		ix.slots[id] = s
	}
}
