package alloc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/werdl/rustnix-fs/alloc"
	"github.com/werdl/rustnix-fs/layout"
)

// memStore is a minimal alloc.BlockStore over a plain slice, used only to
// exercise the resolver in isolation from the physical filesystem.
type memStore struct {
	blocks     [][]byte
	referenced *alloc.Referenced
	next       uint64
}

func newMemStore(numBlocks uint64) *memStore {
	blocks := make([][]byte, numBlocks)
	for i := range blocks {
		blocks[i] = make([]byte, layout.BlockSize)
	}
	return &memStore{blocks: blocks, referenced: alloc.NewReferenced(numBlocks)}
}

func (m *memStore) ReadBlock(id uint64) []byte {
	return m.blocks[id]
}

func (m *memStore) WriteBlock(id uint64, data []byte) {
	m.blocks[id] = data
}

func (m *memStore) Allocate(exclude map[uint64]bool) (uint64, error) {
	return alloc.FindEmptyDataBlock(m.blocks, m.referenced, exclude)
}

func TestFindEmptyInode(t *testing.T) {
	inodes := []layout.Inode{{NumDataBlocks: 1}, {}, {NumDataBlocks: 2}}

	idx, err := alloc.FindEmptyInode(inodes)
	require.NoError(t, err)
	require.Equal(t, 1, idx)
}

func TestFindEmptyInodeOutOfInodes(t *testing.T) {
	inodes := []layout.Inode{{NumDataBlocks: 1}, {NumDataBlocks: 2}}

	_, err := alloc.FindEmptyInode(inodes)
	require.Error(t, err)
}

func TestFindEmptyDataBlockSkipsReferencedAndExcluded(t *testing.T) {
	store := newMemStore(5)
	store.referenced.Mark(1)

	got, err := alloc.FindEmptyDataBlock(store.blocks, store.referenced, map[uint64]bool{2: true})
	require.NoError(t, err)
	require.Equal(t, uint64(3), got)
}

func TestFindEmptyDataBlockSkipsNonZero(t *testing.T) {
	store := newMemStore(3)
	store.blocks[1][0] = 0xff

	got, err := alloc.FindEmptyDataBlock(store.blocks, store.referenced, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(2), got)
}

func TestFindEmptyDataBlockDiskFull(t *testing.T) {
	store := newMemStore(2)
	store.referenced.Mark(1)

	_, err := alloc.FindEmptyDataBlock(store.blocks, store.referenced, nil)
	require.Error(t, err)
}

func TestResolverDirectAllocation(t *testing.T) {
	store := newMemStore(20)
	resolver := alloc.NewResolver(store, nil)
	inode := &layout.Inode{}

	ptr, err := resolver.Resolve(inode, 3, true)
	require.NoError(t, err)
	require.NotZero(t, ptr)
	require.Equal(t, ptr, inode.DirectPointers[3])
}

func TestResolverLookupWithoutAllocateReturnsZeroOnHole(t *testing.T) {
	store := newMemStore(20)
	resolver := alloc.NewResolver(store, nil)
	inode := &layout.Inode{}

	ptr, err := resolver.Resolve(inode, 5, false)
	require.NoError(t, err)
	require.Zero(t, ptr)
}

func TestResolverSingleIndirectAllocatesChain(t *testing.T) {
	store := newMemStore(200)
	resolver := alloc.NewResolver(store, nil)
	inode := &layout.Inode{}

	// k = 12 is the first single-indirect logical index.
	ptr, err := resolver.Resolve(inode, 12, true)
	require.NoError(t, err)
	require.NotZero(t, ptr)
	require.NotZero(t, inode.SingleIndirect)

	// Re-resolving the same index without allocating returns the same id.
	again, err := resolver.Resolve(inode, 12, false)
	require.NoError(t, err)
	require.Equal(t, ptr, again)
}

func TestResolverDoubleIndirectAllocatesChain(t *testing.T) {
	const P = uint64(layout.PointersPerBlock)
	store := newMemStore(3 * P * P)
	resolver := alloc.NewResolver(store, nil)
	inode := &layout.Inode{}

	k := layout.DirectPointerCount + P // first double-indirect logical index
	ptr, err := resolver.Resolve(inode, k, true)
	require.NoError(t, err)
	require.NotZero(t, ptr)
	require.NotZero(t, inode.DoubleIndirect)
}

func TestCollectAllBlocksIncludesIndirectChain(t *testing.T) {
	const P = uint64(layout.PointersPerBlock)
	store := newMemStore(3 * P * P)
	resolver := alloc.NewResolver(store, nil)
	inode := &layout.Inode{}

	_, err := resolver.Resolve(inode, 0, true)
	require.NoError(t, err)
	_, err = resolver.Resolve(inode, layout.DirectPointerCount, true)
	require.NoError(t, err)
	doubleK := layout.DirectPointerCount + P
	_, err = resolver.Resolve(inode, doubleK, true)
	require.NoError(t, err)

	ids := alloc.CollectAllBlocks(store, *inode)
	require.Contains(t, ids, inode.SingleIndirect)
	require.Contains(t, ids, inode.DoubleIndirect)
	require.Contains(t, ids, inode.DirectPointers[0])
}

func TestResolverNeverAliasesPointersWithinOneOperation(t *testing.T) {
	store := newMemStore(100)
	exclude := make(map[uint64]bool)
	resolver := alloc.NewResolver(store, exclude)
	inode := &layout.Inode{}

	seen := make(map[uint64]bool)
	for k := uint64(0); k < 15; k++ {
		ptr, err := resolver.Resolve(inode, k, true)
		require.NoError(t, err)
		require.False(t, seen[ptr], "block %d handed out twice", ptr)
		seen[ptr] = true
	}
}
