// Package layout implements the fixed-offset, little-endian on-disk codec
// for the superblock, inode and metadata block structures. Every byte
// offset of those three structures lives here and nowhere else, so the
// allocator and physical filesystem never hand-copy them.
package layout

import (
	"encoding/binary"

	"github.com/noxer/bytewriter"

	"github.com/werdl/rustnix-fs/errno"
)

// BlockSize is the size in bytes of every on-disk structure this package
// encodes and decodes.
const BlockSize = 512

// Magic is the superblock's identifying constant, the ASCII bytes
// "rustnix " read as a big-endian u64.
const Magic uint64 = 0x7275_7374_6e69_7820

// PointersPerBlock is the number of u64 pointers that fit in one indirect
// block (512/8).
const PointersPerBlock = BlockSize / 8

// DirectPointerCount is the number of direct block pointers an inode holds.
const DirectPointerCount = 12

// Superblock is the decoded form of block 0.
type Superblock struct {
	DiskSize        uint64
	InodeTableSize  uint64
	DataBlockSize   uint64
	NumInodes       uint64
	NumDataBlocks   uint64
}

// Encode writes the superblock into a fresh 512-byte block.
func (s Superblock) Encode() []byte {
	buf := make([]byte, BlockSize)
	w := bytewriter.New(buf)
	binary.Write(w, binary.LittleEndian, Magic)
	binary.Write(w, binary.LittleEndian, s.DiskSize)
	binary.Write(w, binary.LittleEndian, s.InodeTableSize)
	binary.Write(w, binary.LittleEndian, s.DataBlockSize)
	binary.Write(w, binary.LittleEndian, s.NumInodes)
	binary.Write(w, binary.LittleEndian, s.NumDataBlocks)
	return buf
}

// DecodeSuperblock validates and decodes a 512-byte block as a superblock.
func DecodeSuperblock(block []byte) (Superblock, error) {
	if len(block) < BlockSize {
		return Superblock{}, errno.ErrInvalidSuperblock.WithMessage("short block")
	}

	magic := binary.LittleEndian.Uint64(block[0:8])
	if magic != Magic {
		return Superblock{}, errno.ErrInvalidSuperblock.WithMessage("bad magic number")
	}

	return Superblock{
		DiskSize:       binary.LittleEndian.Uint64(block[8:16]),
		InodeTableSize: binary.LittleEndian.Uint64(block[16:24]),
		DataBlockSize:  binary.LittleEndian.Uint64(block[24:32]),
		NumInodes:      binary.LittleEndian.Uint64(block[32:40]),
		NumDataBlocks:  binary.LittleEndian.Uint64(block[40:48]),
	}, nil
}

// FileNameSize is the fixed width of an inode's embedded path field.
const FileNameSize = 384

// Inode is the decoded form of one inode-table block.
type Inode struct {
	NumDataBlocks   uint64
	DirectPointers  [DirectPointerCount]uint64
	SingleIndirect  uint64
	DoubleIndirect  uint64
	TripleIndirect  uint64
	FileName        string
}

// IsFree reports whether the inode is unallocated.
func (i Inode) IsFree() bool {
	return i.NumDataBlocks == 0
}

// Encode writes the inode into a fresh 512-byte block.
func (i Inode) Encode() []byte {
	buf := make([]byte, BlockSize)
	w := bytewriter.New(buf)
	binary.Write(w, binary.LittleEndian, i.NumDataBlocks)
	for _, ptr := range i.DirectPointers {
		binary.Write(w, binary.LittleEndian, ptr)
	}
	binary.Write(w, binary.LittleEndian, i.SingleIndirect)
	binary.Write(w, binary.LittleEndian, i.DoubleIndirect)
	binary.Write(w, binary.LittleEndian, i.TripleIndirect)

	nameBytes := []byte(i.FileName)
	if len(nameBytes) > FileNameSize {
		nameBytes = nameBytes[:FileNameSize]
	}
	copy(buf[128:128+len(nameBytes)], nameBytes)
	return buf
}

// DecodeInode decodes a 512-byte block as an inode.
func DecodeInode(block []byte) (Inode, error) {
	if len(block) < BlockSize {
		return Inode{}, errno.ErrInvalidInode.WithMessage("short block")
	}

	var inode Inode
	inode.NumDataBlocks = binary.LittleEndian.Uint64(block[0:8])
	for idx := 0; idx < DirectPointerCount; idx++ {
		offset := 8 + idx*8
		inode.DirectPointers[idx] = binary.LittleEndian.Uint64(block[offset : offset+8])
	}
	inode.SingleIndirect = binary.LittleEndian.Uint64(block[104:112])
	inode.DoubleIndirect = binary.LittleEndian.Uint64(block[112:120])
	inode.TripleIndirect = binary.LittleEndian.Uint64(block[120:128])

	nameField := block[128:512]
	end := len(nameField)
	for end > 0 && nameField[end-1] == 0 {
		end--
	}
	inode.FileName = string(nameField[:end])

	return inode, nil
}

// Metadata is the decoded form of a file's metadata block (its first data
// block, direct[0]).
type Metadata struct {
	Owner            uint64
	CreationTime     uint64
	ModificationTime uint64
	AccessTime       uint64
	Permissions      uint64
}

// Perms unpacks the three permission-triplet bytes (owner, group, other)
// from the low three bytes of Permissions.
func (m Metadata) Perms() [3]byte {
	return [3]byte{
		byte(m.Permissions >> 16),
		byte(m.Permissions >> 8),
		byte(m.Permissions),
	}
}

// PackPerms packs a permission triplet into the low three bytes of a
// Permissions value.
func PackPerms(perms [3]byte) uint64 {
	return uint64(perms[0])<<16 | uint64(perms[1])<<8 | uint64(perms[2])
}

// Encode writes the metadata into a fresh 512-byte block.
func (m Metadata) Encode() []byte {
	buf := make([]byte, BlockSize)
	w := bytewriter.New(buf)
	binary.Write(w, binary.LittleEndian, m.Owner)
	binary.Write(w, binary.LittleEndian, m.CreationTime)
	binary.Write(w, binary.LittleEndian, m.ModificationTime)
	binary.Write(w, binary.LittleEndian, m.AccessTime)
	binary.Write(w, binary.LittleEndian, m.Permissions)
	return buf
}

// DecodeMetadata decodes a 512-byte block as a metadata block.
func DecodeMetadata(block []byte) (Metadata, error) {
	if len(block) < BlockSize {
		return Metadata{}, errno.ErrInvalidMetadata.WithMessage("short block")
	}

	return Metadata{
		Owner:            binary.LittleEndian.Uint64(block[0:8]),
		CreationTime:     binary.LittleEndian.Uint64(block[8:16]),
		ModificationTime: binary.LittleEndian.Uint64(block[16:24]),
		AccessTime:       binary.LittleEndian.Uint64(block[24:32]),
		Permissions:      binary.LittleEndian.Uint64(block[32:40]),
	}, nil
}
