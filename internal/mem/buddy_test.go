package mem

import "testing"

func TestAllocDeallocRoundTrip(t *testing.T) {
	a, err := NewAllocator(1024, 5)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}

	addr, err := a.Alloc(1, 40)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	payload := PayloadAddr(addr)
	a.Write32(payload, 0xdeadbeef)
	if got := a.Read32(payload); got != 0xdeadbeef {
		t.Fatalf("payload readback: got %#x", got)
	}

	if err := a.Dealloc(addr, 1); err != nil {
		t.Fatalf("Dealloc: %v", err)
	}
}

func TestDeallocWrongOwnerRejected(t *testing.T) {
	a, err := NewAllocator(1024, 5)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	addr, err := a.Alloc(1, 40)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := a.Dealloc(addr, 2); err != ErrNotOwner {
		t.Fatalf("Dealloc with wrong owner: got %v, want ErrNotOwner", err)
	}
}

func TestDoubleFreeRejected(t *testing.T) {
	a, err := NewAllocator(1024, 5)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	addr, err := a.Alloc(1, 40)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := a.Dealloc(addr, 1); err != nil {
		t.Fatalf("first Dealloc: %v", err)
	}
	if err := a.Dealloc(addr, 1); err != ErrAlreadyFree {
		t.Fatalf("second Dealloc: got %v, want ErrAlreadyFree", err)
	}
}

func TestOutOfMemory(t *testing.T) {
	a, err := NewAllocator(64, 5)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	if _, err := a.Alloc(1, 1000); err != ErrSizeTooLarge {
		t.Fatalf("Alloc oversized: got %v, want ErrSizeTooLarge", err)
	}
	// 35+HeaderSize(24)=59 needs the top-level 64-byte block; nothing else
	// can be carved out of a 64-byte heap once it's handed out whole.
	if _, err := a.Alloc(1, 35); err != nil {
		t.Fatalf("Alloc whole heap: %v", err)
	}
	if _, err := a.Alloc(2, 10); err != ErrOutOfMemory {
		t.Fatalf("second Alloc: got %v, want ErrOutOfMemory", err)
	}
}

func TestCoalescingReunitesParentBlock(t *testing.T) {
	a, err := NewAllocator(256, 5)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}

	// Split the whole heap down into two 128-byte blocks by allocating one.
	b1, err := a.Alloc(1, 90)
	if err != nil {
		t.Fatalf("Alloc b1: %v", err)
	}
	b2, err := a.Alloc(2, 90)
	if err != nil {
		t.Fatalf("Alloc b2: %v", err)
	}

	if err := a.Dealloc(b1, 1); err != nil {
		t.Fatalf("Dealloc b1: %v", err)
	}
	if err := a.Dealloc(b2, 2); err != nil {
		t.Fatalf("Dealloc b2: %v", err)
	}

	// The whole heap should be one free block again: a full-size allocation
	// should now succeed.
	b3, err := a.Alloc(3, 200)
	if err != nil {
		t.Fatalf("Alloc after coalesce: %v", err)
	}
	if err := a.Dealloc(b3, 3); err != nil {
		t.Fatalf("Dealloc b3: %v", err)
	}
}

func TestCountExternalFragments(t *testing.T) {
	a, err := NewAllocator(1024, 5)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	// Allocate and free a small block; once it coalesces back, no free block
	// smaller than the whole heap remains.
	addr, err := a.Alloc(1, 8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := a.Dealloc(addr, 1); err != nil {
		t.Fatalf("Dealloc: %v", err)
	}
	if got := a.CountExternalFragments(1024); got != 0 {
		t.Fatalf("CountExternalFragments(1024): got %d, want 0 (heap fully coalesced)", got)
	}
}

func TestTransferOwnership(t *testing.T) {
	a, err := NewAllocator(1024, 5)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	addr, err := a.Alloc(1, 40)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := a.TransferOwnership(addr, 1, 2); err != nil {
		t.Fatalf("TransferOwnership: %v", err)
	}
	if err := a.Dealloc(addr, 1); err != ErrNotOwner {
		t.Fatalf("Dealloc by old owner after transfer: got %v, want ErrNotOwner", err)
	}
	if err := a.Dealloc(addr, 2); err != nil {
		t.Fatalf("Dealloc by new owner: %v", err)
	}
}
