package framepool

import (
	"testing"

	"github.com/e7canasta/kmsplay/internal/errs"
)

func TestSlotOwnershipInvariant(t *testing.T) {
	p, err := NewPool(2, 64, 48, 0)
	if err != nil {
		t.Fatal(err)
	}

	decoding, held, total := p.CountByState()
	if decoding != 0 || held != 0 || total != 2 {
		t.Fatalf("expected 0/0/2 at start, got %d/%d/%d", decoding, held, total)
	}

	s := p.AcquireFree()
	if s == nil {
		t.Fatal("expected a free slot")
	}
	decoding, held, _ = p.CountByState()
	if decoding != 1 || held != 0 {
		t.Fatalf("expected 1 decoding, got decoding=%d held=%d", decoding, held)
	}

	p.Publish(s)
	borrowed := p.BorrowLatest()
	if borrowed != s {
		t.Fatal("expected to borrow the just-published slot")
	}
	decoding, held, _ = p.CountByState()
	if decoding != 0 || held != 1 {
		t.Fatalf("expected 0 decoding 1 held, got decoding=%d held=%d", decoding, held)
	}
}

func TestBorrowLatestReturnsNoneWhenNotAdvanced(t *testing.T) {
	p, err := NewPool(2, 64, 48, 0)
	if err != nil {
		t.Fatal(err)
	}
	s := p.AcquireFree()
	p.Publish(s)

	first := p.BorrowLatest()
	if first == nil {
		t.Fatal("expected first borrow to succeed")
	}
	second := p.BorrowLatest()
	if second != nil {
		t.Fatal("expected second borrow with no new publish to return nil")
	}
	if p.HeldSlot() != first {
		t.Fatal("expected HeldSlot to still return the previously borrowed slot")
	}
}

func TestAcquireFreeReturnsNilWhenAllSlotsBusy(t *testing.T) {
	p, err := NewPool(2, 64, 48, 0)
	if err != nil {
		t.Fatal(err)
	}
	a := p.AcquireFree()
	if a == nil {
		t.Fatal("expected first acquire to succeed")
	}
	b := p.AcquireFree()
	if b == nil {
		t.Fatal("expected second acquire to succeed")
	}
	if p.AcquireFree() != nil {
		t.Fatal("expected third acquire to fail: both slots are decoding")
	}
}

func TestNewPoolRejectsOutOfRangeCount(t *testing.T) {
	if _, err := NewPool(1, 64, 48, 0); err == nil {
		t.Fatal("expected error for slot count below MinSlots")
	}
	if _, err := NewPool(4, 64, 48, 0); err == nil {
		t.Fatal("expected error for slot count above MaxSlots")
	}
}

func TestDimensionBound(t *testing.T) {
	p, err := NewPool(2, 100, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	s := p.AcquireFree()
	s.Y.ValidWidth, s.Y.ValidHeight = 100, 100
	s.Y.Stride = s.Y.AllocWidth
	w, h := s.Dims()
	if w > s.Y.AllocWidth || h > s.Y.AllocHeight {
		t.Fatalf("decoded dims %dx%d exceed allocation %dx%d", w, h, s.Y.AllocWidth, s.Y.AllocHeight)
	}
}

func TestNeedsReallocation(t *testing.T) {
	p, err := NewPool(2, 100, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Within 20% headroom: alloc is ceil(100*1.2)=120, so 110 still fits.
	if p.NeedsReallocation(110, 110) {
		t.Fatal("expected 110x110 to fit within headroom of a 100x100 pool")
	}
	// Beyond headroom: 200 exceeds 120.
	if !p.NeedsReallocation(200, 200) {
		t.Fatal("expected 200x200 to require reallocation")
	}
}

func TestNewPoolRejectsOverBudgetAllocation(t *testing.T) {
	need := EstimatedBytes(2, 3840, 2160)
	_, err := NewPool(2, 3840, 2160, need-1)
	if err == nil {
		t.Fatal("expected an error when the budget is one byte short")
	}
	if errs.Classify(err) != errs.CategoryResource {
		t.Fatalf("expected CategoryResource, got %v", errs.Classify(err))
	}
}

func TestNewPoolAcceptsAllocationWithinBudget(t *testing.T) {
	need := EstimatedBytes(2, 640, 480)
	if _, err := NewPool(2, 640, 480, need); err != nil {
		t.Fatalf("expected allocation exactly at budget to succeed, got %v", err)
	}
}
