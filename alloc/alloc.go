// Package alloc implements inode and data-block allocation and the single
// centralized helper that resolves a logical block index to a physical
// data-block id across the direct / single / double / triple indirect
// addressing scheme.
package alloc

import (
	bitmap "github.com/boljen/go-bitmap"

	"github.com/werdl/rustnix-fs/errno"
	"github.com/werdl/rustnix-fs/layout"
)

// FindEmptyInode returns the lowest inode index whose NumDataBlocks is 0.
func FindEmptyInode(inodes []layout.Inode) (int, error) {
	for i, inode := range inodes {
		if inode.IsFree() {
			return i, nil
		}
	}
	return 0, errno.ErrOutOfInodes
}

func isZeroBlock(block []byte) bool {
	for _, b := range block {
		if b != 0 {
			return false
		}
	}
	return true
}

// Referenced tracks, per data-block index, whether that block is named by
// some live inode's direct pointer array. This is an in-memory cache: the
// free/unreferenced scan the allocator performs would otherwise walk every
// inode's direct array on every call.
type Referenced struct {
	bits  bitmap.Bitmap
	count int
}

// NewReferenced builds an empty referenced-tracker sized for numDataBlocks.
func NewReferenced(numDataBlocks uint64) *Referenced {
	return &Referenced{bits: bitmap.New(int(numDataBlocks)), count: int(numDataBlocks)}
}

// Rebuild recomputes the referenced set from scratch against the current
// inode table. Callers invoke this after loading a filesystem from disk.
func (r *Referenced) Rebuild(inodes []layout.Inode) {
	r.bits = bitmap.New(r.count)
	for _, inode := range inodes {
		if inode.IsFree() {
			continue
		}
		for _, ptr := range inode.DirectPointers {
			r.Mark(ptr)
		}
	}
}

// Mark records blockID as referenced by some inode's direct pointer array.
// Pointer 0 ("none") is never tracked.
func (r *Referenced) Mark(blockID uint64) {
	if blockID == 0 || int(blockID) >= r.count {
		return
	}
	r.bits.Set(int(blockID), true)
}

// Unmark records blockID as no longer referenced by any inode's direct
// pointer array.
func (r *Referenced) Unmark(blockID uint64) {
	if blockID == 0 || int(blockID) >= r.count {
		return
	}
	r.bits.Set(int(blockID), false)
}

// IsReferenced reports whether blockID is currently marked.
func (r *Referenced) IsReferenced(blockID uint64) bool {
	if blockID == 0 || int(blockID) >= r.count {
		return false
	}
	return r.bits.Get(int(blockID))
}

// FindEmptyDataBlock scans data block indices [1, len(dataBlocks)) and
// returns the lowest index that is all-zero, is not referenced by any live
// inode's direct pointer array, and is not in exclude. Index 0 is reserved
// and never considered.
func FindEmptyDataBlock(dataBlocks [][]byte, referenced *Referenced, exclude map[uint64]bool) (uint64, error) {
	for i := uint64(1); i < uint64(len(dataBlocks)); i++ {
		if exclude != nil && exclude[i] {
			continue
		}
		if referenced.IsReferenced(i) {
			continue
		}
		if !isZeroBlock(dataBlocks[i]) {
			continue
		}
		return i, nil
	}
	return 0, errno.ErrDiskFull
}

// BlockStore is the narrow collaborator the logical-block resolver needs:
// read and write a data block's raw bytes by its physical index, and
// allocate a fresh data block when one is needed for an indirect pointer
// chain.
type BlockStore interface {
	ReadBlock(id uint64) []byte
	WriteBlock(id uint64, data []byte)
	Allocate(exclude map[uint64]bool) (uint64, error)
}

// Resolver resolves logical block indices to physical data-block ids,
// walking and — if requested — allocating every indirect level the index
// requires. This is a single helper in place of four hand-unrolled
// direct/single/double/triple functions, which is easy to get subtly wrong
// at the level boundaries.
type Resolver struct {
	Store   BlockStore
	Exclude map[uint64]bool
}

// NewResolver creates a Resolver. exclude may be nil; if non-nil, every
// newly allocated block is also added to it so a single multi-block
// operation never hands out the same block twice.
func NewResolver(store BlockStore, exclude map[uint64]bool) *Resolver {
	if exclude == nil {
		exclude = make(map[uint64]bool)
	}
	return &Resolver{Store: store, Exclude: exclude}
}

// Resolve maps logical index k (k=0 is the metadata block) to a physical
// data-block id. If allocate is false, a hole in the pointer chain resolves
// to 0 rather than allocating; if allocate is true, every missing pointer
// level (including the leaf data block slot) is allocated as needed.
func (r *Resolver) Resolve(inode *layout.Inode, k uint64, allocate bool) (uint64, error) {
	const P = uint64(layout.PointersPerBlock)

	if k < layout.DirectPointerCount {
		ptr := inode.DirectPointers[k]
		if ptr == 0 && allocate {
			newID, err := r.allocateBlock()
			if err != nil {
				return 0, err
			}
			inode.DirectPointers[k] = newID
			ptr = newID
		}
		return ptr, nil
	}

	k -= layout.DirectPointerCount
	if k < P {
		return r.walkTop(&inode.SingleIndirect, []uint64{k}, allocate)
	}

	k -= P
	if k < P*P {
		outer := k / P
		inner := k % P
		return r.walkTop(&inode.DoubleIndirect, []uint64{outer, inner}, allocate)
	}

	k -= P * P
	outer2 := k / (P * P)
	rem := k % (P * P)
	outer := rem / P
	inner := rem % P
	return r.walkTop(&inode.TripleIndirect, []uint64{outer2, outer, inner}, allocate)
}

func (r *Resolver) allocateBlock() (uint64, error) {
	newID, err := r.Store.Allocate(r.Exclude)
	if err != nil {
		return 0, err
	}
	r.Exclude[newID] = true
	r.Store.WriteBlock(newID, make([]byte, layout.BlockSize))
	return newID, nil
}

// walkTop dereferences the top-level indirect pointer (allocating it if
// missing and allocate is true), then descends path through successive
// pointer-array blocks.
func (r *Resolver) walkTop(topPtr *uint64, path []uint64, allocate bool) (uint64, error) {
	if *topPtr == 0 {
		if !allocate {
			return 0, nil
		}
		newID, err := r.allocateBlock()
		if err != nil {
			return 0, err
		}
		*topPtr = newID
	}
	return r.walkBlock(*topPtr, path, allocate)
}

// walkBlock descends one pointer-array block at a time. The last index in
// path names a slot holding the final physical data-block id; every index
// before it names a slot holding the next pointer-array block's id.
func (r *Resolver) walkBlock(blockID uint64, path []uint64, allocate bool) (uint64, error) {
	ptrs := decodePointerArray(r.Store.ReadBlock(blockID))
	idx := path[0]

	if len(path) == 1 {
		if ptrs[idx] == 0 && allocate {
			newID, err := r.allocateBlock()
			if err != nil {
				return 0, err
			}
			ptrs[idx] = newID
			r.Store.WriteBlock(blockID, encodePointerArray(ptrs))
		}
		return ptrs[idx], nil
	}

	next := ptrs[idx]
	if next == 0 {
		if !allocate {
			return 0, nil
		}
		newID, err := r.allocateBlock()
		if err != nil {
			return 0, err
		}
		ptrs[idx] = newID
		r.Store.WriteBlock(blockID, encodePointerArray(ptrs))
		next = newID
	}

	return r.walkBlock(next, path[1:], allocate)
}

func decodePointerArray(block []byte) [layout.PointersPerBlock]uint64 {
	var ptrs [layout.PointersPerBlock]uint64
	for i := range ptrs {
		offset := i * 8
		var v uint64
		for j := 0; j < 8; j++ {
			v |= uint64(block[offset+j]) << (8 * j)
		}
		ptrs[i] = v
	}
	return ptrs
}

func encodePointerArray(ptrs [layout.PointersPerBlock]uint64) []byte {
	block := make([]byte, layout.BlockSize)
	for i, v := range ptrs {
		offset := i * 8
		for j := 0; j < 8; j++ {
			block[offset+j] = byte(v >> (8 * j))
		}
	}
	return block
}

// CollectAllBlocks enumerates every physical block id addressable by inode:
// the direct pointers, the indirect pointer-array blocks themselves, and
// every leaf data block they point to. Deleting a file must zero all of
// these, not just the direct array, or indirect chains leak.
func CollectAllBlocks(store BlockStore, inode layout.Inode) []uint64 {
	var ids []uint64

	for _, ptr := range inode.DirectPointers {
		if ptr != 0 {
			ids = append(ids, ptr)
		}
	}

	if inode.SingleIndirect != 0 {
		ids = append(ids, inode.SingleIndirect)
		ids = append(ids, leafPointees(store, inode.SingleIndirect)...)
	}

	if inode.DoubleIndirect != 0 {
		ids = append(ids, inode.DoubleIndirect)
		for _, mid := range decodePointerArray(store.ReadBlock(inode.DoubleIndirect)) {
			if mid == 0 {
				continue
			}
			ids = append(ids, mid)
			ids = append(ids, leafPointees(store, mid)...)
		}
	}

	if inode.TripleIndirect != 0 {
		ids = append(ids, inode.TripleIndirect)
		for _, mid := range decodePointerArray(store.ReadBlock(inode.TripleIndirect)) {
			if mid == 0 {
				continue
			}
			ids = append(ids, mid)
			for _, leafArrayID := range decodePointerArray(store.ReadBlock(mid)) {
				if leafArrayID == 0 {
					continue
				}
				ids = append(ids, leafArrayID)
				ids = append(ids, leafPointees(store, leafArrayID)...)
			}
		}
	}

	return ids
}

func leafPointees(store BlockStore, blockID uint64) []uint64 {
	var ids []uint64
	for _, ptr := range decodePointerArray(store.ReadBlock(blockID)) {
		if ptr != 0 {
			ids = append(ids, ptr)
		}
	}
	return ids
}
