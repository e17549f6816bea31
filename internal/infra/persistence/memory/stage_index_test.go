package memory

import (
	"errors"
	"reflect"
	"testing"

	"custodyledger/pkg/domain"
)

func TestStageOverlaySwapAndPop(t *testing.T) {
	ix := newStageIndex()
	ov := newStageOverlay(ix)
	for id := uint64(1); id <= 4; id++ {
		if err := ov.add(id, domain.StatusCreated); err != nil {
			t.Fatalf("add %d: %v", id, err)
		}
	}
	ov.apply(ix)

	ov = newStageOverlay(ix)
	if err := ov.remove(2, domain.StatusCreated); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := ov.list(domain.StatusCreated); !reflect.DeepEqual(got, []uint64{1, 4, 3}) {
		t.Fatalf("expected last element swapped into hole, got %v", got)
	}
	if got := ix.list(domain.StatusCreated); !reflect.DeepEqual(got, []uint64{1, 2, 3, 4}) {
		t.Fatalf("committed index mutated before apply: %v", got)
	}
	if s, ok := ov.lookup(4); !ok || s.pos != 1 {
		t.Fatalf("moved element position not updated: %+v %v", s, ok)
	}
	if _, ok := ov.lookup(2); ok {
		t.Fatalf("removed id still resolvable")
	}
	if err := ov.add(2, domain.StatusSentByManufacturer); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	ov.apply(ix)

	if s, ok := ix.lookup(2); !ok || s.status != domain.StatusSentByManufacturer || s.pos != 0 {
		t.Fatalf("unexpected slot for 2: %+v %v", s, ok)
	}
	if s, ok := ix.lookup(4); !ok || s.pos != 1 {
		t.Fatalf("unexpected slot for 4: %+v %v", s, ok)
	}
}

func TestStageOverlayRemoveLastElement(t *testing.T) {
	ix := newStageIndex()
	ov := newStageOverlay(ix)
	_ = ov.add(7, domain.StatusCreated)
	_ = ov.add(8, domain.StatusCreated)
	if err := ov.remove(8, domain.StatusCreated); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := ov.list(domain.StatusCreated); !reflect.DeepEqual(got, []uint64{7}) {
		t.Fatalf("unexpected bucket %v", got)
	}
}

func TestStageOverlayRejectsInconsistentEdits(t *testing.T) {
	ov := newStageOverlay(newStageIndex())
	if err := ov.remove(1, domain.StatusCreated); !errors.Is(err, ErrInconsistentIndex) {
		t.Fatalf("expected ErrInconsistentIndex for absent id, got %v", err)
	}
	_ = ov.add(1, domain.StatusCreated)
	if err := ov.remove(1, domain.StatusSentByManufacturer); !errors.Is(err, ErrInconsistentIndex) {
		t.Fatalf("expected ErrInconsistentIndex for wrong bucket, got %v", err)
	}
	if err := ov.add(1, domain.StatusSentByManufacturer); !errors.Is(err, ErrInconsistentIndex) {
		t.Fatalf("expected ErrInconsistentIndex for double index, got %v", err)
	}
	if err := ov.add(2, domain.ProductStatus(99)); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for undeclared status, got %v", err)
	}
}

func TestStageIndexRebuildDetectsDuplicates(t *testing.T) {
	ix := newStageIndex()
	ix.buckets[domain.StatusCreated] = []uint64{1, 2}
	ix.buckets[domain.StatusSentByManufacturer] = []uint64{2}
	if err := ix.rebuild(); !errors.Is(err, ErrInconsistentIndex) {
		t.Fatalf("expected duplicate detection, got %v", err)
	}
}
