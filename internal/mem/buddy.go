// buddy.go - power-of-two buddy allocator over a byte-addressed heap.
//
// Blocks are identified by (exp, pos): exp is the power-of-two exponent of
// the block's size, pos is its index among same-sized blocks counting from
// the base of the heap. Every live block, free or allocated, carries an
// in-band header (see metadata.go) at its lowest address.
package mem

import (
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors, matching the RTX_OK/RTX_ERR boolean taxonomy the original
// used, expanded into distinct values the way the design notes ask for.
var (
	ErrOutOfMemory  = errors.New("mem: out of memory")
	ErrSizeTooLarge = errors.New("mem: requested size exceeds heap capacity")
	ErrSizeZero     = errors.New("mem: requested size must be non-zero")
	ErrInvalidBlock = errors.New("mem: address does not reference a live allocated block")
	ErrNotOwner     = errors.New("mem: caller does not own this block")
	ErrAlreadyFree  = errors.New("mem: double free detected")
)

type nodeState uint8

const (
	stateFree nodeState = iota
	stateAllocated
	stateSplit
)

// Allocator is a power-of-two buddy allocator. The zero value is not usable;
// construct with NewAllocator.
type Allocator struct {
	mu       sync.Mutex
	h        *heap
	minExp   uint8
	maxExp   uint8
	nodes    [][]nodeState // nodes[maxExp-exp][pos]
	freeHead []uint32      // freeHead[maxExp-exp], NullAddr if empty
}

// NewAllocator creates a buddy allocator managing a heap of the given size,
// which must be a power of two larger than 1<<minExp. minExp bounds the
// smallest block the allocator will ever hand out or split down to; it must
// be large enough to hold HeaderSize plus at least a few bytes of payload.
func NewAllocator(size uint32, minExp uint8) (*Allocator, error) {
	maxExp := uint8(0)
	for (uint32(1) << maxExp) < size {
		maxExp++
	}
	if uint32(1)<<maxExp != size {
		return nil, fmt.Errorf("mem: heap size %d is not a power of two", size)
	}
	if minExp >= maxExp {
		return nil, fmt.Errorf("mem: minExp %d must be less than maxExp %d", minExp, maxExp)
	}
	numLevels := int(maxExp-minExp) + 1
	a := &Allocator{
		h:        newHeap(size),
		minExp:   minExp,
		maxExp:   maxExp,
		nodes:    make([][]nodeState, numLevels),
		freeHead: make([]uint32, numLevels),
	}
	for i := 0; i < numLevels; i++ {
		exp := maxExp - uint8(i)
		count := uint32(1) << (maxExp - exp)
		a.nodes[i] = make([]nodeState, count)
		a.freeHead[i] = NullAddr
	}
	a.pushFree(maxExp, 0)
	return a, nil
}

func (a *Allocator) levelIdx(exp uint8) int               { return int(a.maxExp - exp) }
func (a *Allocator) blockSize(exp uint8) uint32           { return uint32(1) << exp }
func (a *Allocator) addrOf(exp uint8, pos uint32) uint32  { return pos << exp }
func (a *Allocator) posOf(exp uint8, addr uint32) uint32  { return addr >> exp }

func (a *Allocator) setState(exp uint8, pos uint32, s nodeState) {
	a.nodes[a.levelIdx(exp)][pos] = s
}

func (a *Allocator) getState(exp uint8, pos uint32) nodeState {
	return a.nodes[a.levelIdx(exp)][pos]
}

// pushFree links the block at (exp, pos) onto the front of that level's free
// list and marks it free.
func (a *Allocator) pushFree(exp uint8, pos uint32) {
	addr := a.addrOf(exp, pos)
	idx := a.levelIdx(exp)
	head := a.freeHead[idx]
	writeHeader(a.h, header{
		addr:      addr,
		level:     exp,
		allocated: false,
		ownerTID:  NullAddr,
		prevFree:  NullAddr,
		nextFree:  head,
	})
	if head != NullAddr {
		hdr := readHeader(a.h, head)
		hdr.prevFree = addr
		writeHeader(a.h, hdr)
	}
	a.freeHead[idx] = addr
	a.setState(exp, pos, stateFree)
}

// popFree removes and returns the address of the head of exp's free list, or
// NullAddr if none is present.
func (a *Allocator) popFree(exp uint8) uint32 {
	idx := a.levelIdx(exp)
	addr := a.freeHead[idx]
	if addr == NullAddr {
		return NullAddr
	}
	a.unlinkFree(exp, addr)
	return addr
}

// unlinkFree removes a specific free block from its level's free list
// without changing its node state.
func (a *Allocator) unlinkFree(exp uint8, addr uint32) {
	idx := a.levelIdx(exp)
	hdr := readHeader(a.h, addr)
	if hdr.prevFree != NullAddr {
		prev := readHeader(a.h, hdr.prevFree)
		prev.nextFree = hdr.nextFree
		writeHeader(a.h, prev)
	} else {
		a.freeHead[idx] = hdr.nextFree
	}
	if hdr.nextFree != NullAddr {
		next := readHeader(a.h, hdr.nextFree)
		next.prevFree = hdr.prevFree
		writeHeader(a.h, next)
	}
}

func (a *Allocator) freeListLen(exp uint8) int {
	n := 0
	for addr := a.freeHead[a.levelIdx(exp)]; addr != NullAddr; {
		n++
		addr = readHeader(a.h, addr).nextFree
	}
	return n
}

// expFor returns the smallest exponent whose block size can hold size bytes
// of payload plus the in-band header, clamped to the allocator's range.
func (a *Allocator) expFor(size uint32) (uint8, error) {
	if size == 0 {
		return 0, ErrSizeZero
	}
	need := uint64(size) + HeaderSize
	exp := a.minExp
	for uint64(a.blockSize(exp)) < need {
		exp++
		if exp > a.maxExp {
			return 0, ErrSizeTooLarge
		}
	}
	return exp, nil
}

// Alloc reserves a block able to hold size bytes, tagging it as owned by
// ownerTID, and returns the address of its in-band header.
func (a *Allocator) Alloc(ownerTID uint32, size uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	exp, err := a.expFor(size)
	if err != nil {
		return NullAddr, err
	}

	// Find the smallest level at or above exp with a free block.
	found := exp
	for a.freeHead[a.levelIdx(found)] == NullAddr {
		found++
		if found > a.maxExp {
			return NullAddr, ErrOutOfMemory
		}
	}

	addr := a.popFree(found)

	// Split down from `found` to `exp`, keeping the lower half each time and
	// pushing the upper half (the new buddy) onto its level's free list. The
	// lower child's state is left to the next iteration's stateSplit (or, at
	// the last iteration, to the stateAllocated write below).
	for lvl := found; lvl > exp; lvl-- {
		a.setState(lvl, a.posOf(lvl, addr), stateSplit)
		childExp := lvl - 1
		lowerPos := a.posOf(childExp, addr)
		upperPos := lowerPos + 1
		a.pushFree(childExp, upperPos)
	}

	writeHeader(a.h, header{
		addr:      addr,
		level:     exp,
		allocated: true,
		ownerTID:  ownerTID,
		prevFree:  NullAddr,
		nextFree:  NullAddr,
	})
	a.setState(exp, a.posOf(exp, addr), stateAllocated)
	return addr, nil
}

// Dealloc releases the block at addr, which must currently be allocated to
// ownerTID, coalescing with its buddy chain as far up as possible.
func (a *Allocator) Dealloc(addr uint32, ownerTID uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	hdr := readHeader(a.h, addr)
	if !hdr.valid || !hdr.allocated {
		if hdr.valid && !hdr.allocated {
			return ErrAlreadyFree
		}
		return ErrInvalidBlock
	}
	if hdr.ownerTID != ownerTID {
		return ErrNotOwner
	}

	exp := hdr.level
	pos := a.posOf(exp, addr)
	a.setState(exp, pos, stateFree)

	for exp < a.maxExp {
		buddyPos := pos ^ 1
		if a.getState(exp, buddyPos) != stateFree {
			break
		}
		buddyAddr := a.addrOf(exp, buddyPos)
		a.unlinkFree(exp, buddyAddr)
		// Both children are now free; the parent becomes the live free node.
		parentPos := pos / 2
		exp++
		pos = parentPos
		a.setState(exp, pos, stateFree)
	}

	a.pushFree(exp, pos)
	return nil
}

// CountExternalFragments returns the number of currently free blocks smaller
// than size — blocks too small to ever satisfy an allocation request for
// size bytes, the intended meaning of external fragmentation for a buddy
// allocator (the original's implementation read an uninitialized counter on
// some paths; this follows the documented intent instead).
func (a *Allocator) CountExternalFragments(size uint32) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0
	for exp := a.minExp; exp <= a.maxExp; exp++ {
		if a.blockSize(exp) >= size {
			break
		}
		total += a.freeListLen(exp)
	}
	return total
}

// TransferOwnership reassigns an allocated block's owner tag without moving
// or copying its contents, mirroring the original's transfer_memory.
func (a *Allocator) TransferOwnership(addr uint32, fromTID, toTID uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	hdr := readHeader(a.h, addr)
	if !hdr.valid || !hdr.allocated {
		return ErrInvalidBlock
	}
	if hdr.ownerTID != fromTID {
		return ErrNotOwner
	}
	hdr.ownerTID = toTID
	writeHeader(a.h, hdr)
	return nil
}

// PayloadAddr returns the address of the first usable payload byte for a
// block whose header starts at addr.
func PayloadAddr(addr uint32) uint32 { return addr + HeaderSize }

// Read32/Write32 expose the underlying heap's byte access to callers that
// need to read or write payload contents (e.g. test scenarios verifying
// data survives a transfer).
func (a *Allocator) Read32(addr uint32) uint32 {
	return a.h.read32(addr)
}

func (a *Allocator) Write32(addr uint32, v uint32) {
	a.h.write32(addr, v)
}

// HeapSize returns the total size of the managed region.
func (a *Allocator) HeapSize() uint32 { return a.h.size() }

// BlockSize returns the total size, header included, of the live block
// whose header starts at addr.
func (a *Allocator) BlockSize(addr uint32) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	hdr := readHeader(a.h, addr)
	return a.blockSize(hdr.level)
}
