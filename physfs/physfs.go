// Package physfs implements the physical filesystem: the in-memory image of
// a mounted rustnix-fs disk (superblock, inode table, data blocks) and the
// operations that create, read, write, delete, chmod and chown files
// against it.
package physfs

import (
	"strings"

	"github.com/werdl/rustnix-fs/alloc"
	"github.com/werdl/rustnix-fs/blockio"
	"github.com/werdl/rustnix-fs/errno"
	"github.com/werdl/rustnix-fs/layout"
)

// PhysFs is the fully-resident image of a mounted filesystem.
type PhysFs struct {
	Superblock layout.Superblock
	Inodes     []layout.Inode
	DataBlocks [][]byte

	referenced *alloc.Referenced
}

// deviceStore adapts a physfs instance directly over a DataBlocks slice to
// the alloc.BlockStore contract, so the resolver can read/write indirect
// pointer blocks and allocate fresh ones.
type deviceStore struct {
	fs *PhysFs
}

func (s deviceStore) ReadBlock(id uint64) []byte {
	return s.fs.DataBlocks[id]
}

func (s deviceStore) WriteBlock(id uint64, data []byte) {
	s.fs.DataBlocks[id] = data
}

func (s deviceStore) Allocate(exclude map[uint64]bool) (uint64, error) {
	return alloc.FindEmptyDataBlock(s.fs.DataBlocks, s.fs.referenced, exclude)
}

func (fs *PhysFs) store() alloc.BlockStore {
	return deviceStore{fs: fs}
}

// NewBlank constructs an empty filesystem with numInodes inodes (one inode
// per block, so InodeTableSize==numInodes) and numDataBlocks all-zero data
// blocks.
func NewBlank(numInodes, numDataBlocks uint64) *PhysFs {
	fs := &PhysFs{
		Superblock: layout.Superblock{
			DiskSize:       (1 + numInodes + numDataBlocks) * layout.BlockSize,
			InodeTableSize: numInodes,
			DataBlockSize:  layout.BlockSize,
			NumInodes:      numInodes,
			NumDataBlocks:  numDataBlocks,
		},
		Inodes:     make([]layout.Inode, numInodes),
		DataBlocks: make([][]byte, numDataBlocks),
	}
	for i := range fs.DataBlocks {
		fs.DataBlocks[i] = make([]byte, layout.BlockSize)
	}
	fs.referenced = alloc.NewReferenced(numDataBlocks)
	return fs
}

// FromDevice loads a filesystem image in its entirety from dev.
func FromDevice(dev blockio.Device) (*PhysFs, error) {
	sbBlock, err := dev.ReadBlock(0)
	if err != nil {
		return nil, errno.ErrReadError.Wrap(err)
	}
	sb, err := layout.DecodeSuperblock(sbBlock)
	if err != nil {
		return nil, err
	}

	fs := &PhysFs{Superblock: sb}
	fs.Inodes = make([]layout.Inode, sb.NumInodes)
	for i := uint64(0); i < sb.InodeTableSize; i++ {
		block, err := dev.ReadBlock(1 + i)
		if err != nil {
			return nil, errno.ErrReadError.Wrap(err)
		}
		inode, err := layout.DecodeInode(block)
		if err != nil {
			return nil, err
		}
		fs.Inodes[i] = inode
	}

	fs.DataBlocks = make([][]byte, sb.NumDataBlocks)
	base := 1 + sb.InodeTableSize
	for j := uint64(0); j < sb.NumDataBlocks; j++ {
		block, err := dev.ReadBlock(base + j)
		if err != nil {
			return nil, errno.ErrReadError.Wrap(err)
		}
		fs.DataBlocks[j] = block
	}

	fs.referenced = alloc.NewReferenced(sb.NumDataBlocks)
	fs.referenced.Rebuild(fs.Inodes)
	return fs, nil
}

// ToDevice persists the entire in-memory image to dev, superblock first,
// then every inode block, then every data block, in ascending order.
func (fs *PhysFs) ToDevice(dev blockio.Device) error {
	if err := dev.WriteBlock(0, fs.Superblock.Encode()); err != nil {
		return errno.ErrWriteError.Wrap(err)
	}
	for i, inode := range fs.Inodes {
		if err := dev.WriteBlock(1+uint64(i), inode.Encode()); err != nil {
			return errno.ErrWriteError.Wrap(err)
		}
	}
	base := 1 + fs.Superblock.InodeTableSize
	for j, block := range fs.DataBlocks {
		if err := dev.WriteBlock(base+uint64(j), block); err != nil {
			return errno.ErrWriteError.Wrap(err)
		}
	}
	return nil
}

func (fs *PhysFs) findInodeByPath(path string) (int, bool) {
	for i, inode := range fs.Inodes {
		if !inode.IsFree() && inode.FileName == path {
			return i, true
		}
	}
	return -1, false
}

// CreateFile allocates a new inode and its metadata block for path. Creating
// a path that already names a live file fails with ErrFileExists rather than
// shadowing it.
func (fs *PhysFs) CreateFile(path string, perms [3]byte, owner uint64, now uint64) error {
	if _, ok := fs.findInodeByPath(path); ok {
		return errno.ErrFileExists.WithMessage(path)
	}

	idx, err := alloc.FindEmptyInode(fs.Inodes)
	if err != nil {
		return err
	}

	metaID, err := alloc.FindEmptyDataBlock(fs.DataBlocks, fs.referenced, nil)
	if err != nil {
		return err
	}

	meta := layout.Metadata{
		Owner:            owner,
		CreationTime:     now,
		ModificationTime: now,
		AccessTime:       now,
		Permissions:      layout.PackPerms(perms),
	}
	fs.DataBlocks[metaID] = meta.Encode()

	inode := layout.Inode{
		NumDataBlocks: 1,
		FileName:      path,
	}
	inode.DirectPointers[0] = metaID
	fs.Inodes[idx] = inode
	fs.referenced.Mark(metaID)
	return nil
}

// ReadFile returns the raw concatenated contents of path (every data block
// after the metadata block, in strict logical order) along with its
// decoded metadata. The returned bytes are padded to a 512-byte multiple;
// trimming to the logical length is the caller's responsibility.
func (fs *PhysFs) ReadFile(path string) ([]byte, layout.Metadata, error) {
	idx, ok := fs.findInodeByPath(path)
	if !ok {
		return nil, layout.Metadata{}, errno.ErrFileNotFound.WithMessage(path)
	}
	inode := fs.Inodes[idx]

	meta, err := layout.DecodeMetadata(fs.DataBlocks[inode.DirectPointers[0]])
	if err != nil {
		return nil, layout.Metadata{}, err
	}

	resolver := alloc.NewResolver(fs.store(), nil)
	var out []byte
	for k := uint64(1); k < inode.NumDataBlocks; k++ {
		id, err := resolver.Resolve(&inode, k, false)
		if err != nil {
			return nil, layout.Metadata{}, err
		}
		if id == 0 {
			break
		}
		out = append(out, fs.DataBlocks[id]...)
	}
	return out, meta, nil
}

// WriteFile replaces path's contents with data, extending or shrinking the
// inode's block count as needed. Allocation for the whole operation is
// planned against a scratch copy of the inode and a staging overlay of
// block writes; if allocation fails partway through, the scratch copy and
// overlay are discarded and neither the inode table nor any data block is
// touched.
func (fs *PhysFs) WriteFile(path string, data []byte, perms *[3]byte, owner *uint64, now uint64) error {
	idx, ok := fs.findInodeByPath(path)
	if !ok {
		return errno.ErrFileNotFound.WithMessage(path)
	}

	padded := padTo512(data)
	n := uint64(1 + len(padded)/layout.BlockSize)

	scratchInode := fs.Inodes[idx]
	staging := newStagingStore(fs.store())
	resolver := alloc.NewResolver(staging, make(map[uint64]bool))

	chunkIDs := make([]uint64, 0, n-1)
	for k := uint64(1); k < n; k++ {
		id, err := resolver.Resolve(&scratchInode, k, true)
		if err != nil {
			return err
		}
		chunkIDs = append(chunkIDs, id)
	}

	existingMeta, err := layout.DecodeMetadata(fs.DataBlocks[scratchInode.DirectPointers[0]])
	if err != nil {
		return err
	}
	newMeta := layout.Metadata{
		Owner:            existingMeta.Owner,
		CreationTime:     existingMeta.CreationTime,
		ModificationTime: now,
		AccessTime:       existingMeta.AccessTime,
		Permissions:      existingMeta.Permissions,
	}
	if owner != nil {
		newMeta.Owner = *owner
	}
	if perms != nil {
		newMeta.Permissions = layout.PackPerms(*perms)
	}
	staging.WriteBlock(scratchInode.DirectPointers[0], newMeta.Encode())

	for i, id := range chunkIDs {
		chunk := padded[i*layout.BlockSize : (i+1)*layout.BlockSize]
		staging.WriteBlock(id, append([]byte(nil), chunk...))
	}

	scratchInode.NumDataBlocks = n

	// Commit: apply staged block contents and the updated inode.
	for id, block := range staging.overlay {
		fs.DataBlocks[id] = block
	}
	for _, ptr := range scratchInode.DirectPointers {
		fs.referenced.Mark(ptr)
	}
	fs.Inodes[idx] = scratchInode
	return nil
}

// DeleteFile zeroes every block addressable by path's inode — direct, every
// indirect pointer-array block, and every leaf they point to — then frees
// the inode. A naive implementation that only zeroes the direct array would
// leak every indirect pointer-array and leaf block.
func (fs *PhysFs) DeleteFile(path string) error {
	idx, ok := fs.findInodeByPath(path)
	if !ok {
		return errno.ErrFileNotFound.WithMessage(path)
	}
	inode := fs.Inodes[idx]

	for _, id := range alloc.CollectAllBlocks(fs.store(), inode) {
		fs.DataBlocks[id] = make([]byte, layout.BlockSize)
		fs.referenced.Unmark(id)
	}

	fs.Inodes[idx] = layout.Inode{}
	return nil
}

// Chmod patches the permission triple in path's metadata block.
func (fs *PhysFs) Chmod(path string, perms [3]byte) error {
	idx, ok := fs.findInodeByPath(path)
	if !ok {
		return errno.ErrFileNotFound.WithMessage(path)
	}
	metaID := fs.Inodes[idx].DirectPointers[0]
	meta, err := layout.DecodeMetadata(fs.DataBlocks[metaID])
	if err != nil {
		return err
	}
	meta.Permissions = layout.PackPerms(perms)
	fs.DataBlocks[metaID] = meta.Encode()
	return nil
}

// Chown patches the owner field in path's metadata block.
func (fs *PhysFs) Chown(path string, owner uint64) error {
	idx, ok := fs.findInodeByPath(path)
	if !ok {
		return errno.ErrFileNotFound.WithMessage(path)
	}
	metaID := fs.Inodes[idx].DirectPointers[0]
	meta, err := layout.DecodeMetadata(fs.DataBlocks[metaID])
	if err != nil {
		return err
	}
	meta.Owner = owner
	fs.DataBlocks[metaID] = meta.Encode()
	return nil
}

// GetMetadata returns the decoded metadata block for path without reading
// its data.
func (fs *PhysFs) GetMetadata(path string) (layout.Metadata, error) {
	idx, ok := fs.findInodeByPath(path)
	if !ok {
		return layout.Metadata{}, errno.ErrFileNotFound.WithMessage(path)
	}
	return layout.DecodeMetadata(fs.DataBlocks[fs.Inodes[idx].DirectPointers[0]])
}

// Exists reports whether path names a live file.
func (fs *PhysFs) Exists(path string) bool {
	_, ok := fs.findInodeByPath(path)
	return ok
}

// List returns every live file name that starts with prefix, in ascending
// inode-table order.
func (fs *PhysFs) List(prefix string) []string {
	var names []string
	for _, inode := range fs.Inodes {
		if inode.IsFree() {
			continue
		}
		if strings.HasPrefix(inode.FileName, prefix) {
			names = append(names, inode.FileName)
		}
	}
	return names
}

func padTo512(data []byte) []byte {
	rem := len(data) % layout.BlockSize
	if rem == 0 {
		return data
	}
	padded := make([]byte, len(data)+(layout.BlockSize-rem))
	copy(padded, data)
	return padded
}

// stagingStore overlays writes in memory without touching the real data
// block array, so a failed allocation plan leaves the filesystem untouched.
type stagingStore struct {
	under   alloc.BlockStore
	overlay map[uint64][]byte
}

func newStagingStore(under alloc.BlockStore) *stagingStore {
	return &stagingStore{under: under, overlay: make(map[uint64][]byte)}
}

func (s *stagingStore) ReadBlock(id uint64) []byte {
	if block, ok := s.overlay[id]; ok {
		return block
	}
	return s.under.ReadBlock(id)
}

func (s *stagingStore) WriteBlock(id uint64, data []byte) {
	s.overlay[id] = data
}

func (s *stagingStore) Allocate(exclude map[uint64]bool) (uint64, error) {
	return s.under.Allocate(exclude)
}
