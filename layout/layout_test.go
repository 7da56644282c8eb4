package layout_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/werdl/rustnix-fs/layout"
)

func TestSuperblockRoundTrip(t *testing.T) {
	sb := layout.Superblock{
		DiskSize:       2048 * layout.BlockSize,
		InodeTableSize: 1024,
		DataBlockSize:  layout.BlockSize,
		NumInodes:      1024,
		NumDataBlocks:  1023,
	}

	encoded := sb.Encode()
	require.Len(t, encoded, layout.BlockSize)

	decoded, err := layout.DecodeSuperblock(encoded)
	require.NoError(t, err)
	require.Equal(t, sb, decoded)
}

func TestDecodeSuperblockRejectsBadMagic(t *testing.T) {
	block := make([]byte, layout.BlockSize)
	_, err := layout.DecodeSuperblock(block)
	require.Error(t, err)
}

func TestDecodeSuperblockRejectsShortBlock(t *testing.T) {
	_, err := layout.DecodeSuperblock(make([]byte, 10))
	require.Error(t, err)
}

func TestInodeRoundTrip(t *testing.T) {
	inode := layout.Inode{
		NumDataBlocks: 3,
		FileName:      "/etc/users",
	}
	inode.DirectPointers[0] = 1025
	inode.DirectPointers[1] = 1026
	inode.SingleIndirect = 9999

	encoded := inode.Encode()
	require.Len(t, encoded, layout.BlockSize)

	decoded, err := layout.DecodeInode(encoded)
	require.NoError(t, err)
	require.Equal(t, inode, decoded)
}

func TestInodeIsFree(t *testing.T) {
	require.True(t, layout.Inode{}.IsFree())
	require.False(t, layout.Inode{NumDataBlocks: 1}.IsFree())
}

func TestMetadataRoundTripAndPerms(t *testing.T) {
	meta := layout.Metadata{
		Owner:            0,
		CreationTime:     100,
		ModificationTime: 200,
		AccessTime:       300,
		Permissions:      layout.PackPerms([3]byte{7, 7, 7}),
	}

	encoded := meta.Encode()
	decoded, err := layout.DecodeMetadata(encoded)
	require.NoError(t, err)
	require.Equal(t, meta, decoded)
	require.Equal(t, [3]byte{7, 7, 7}, decoded.Perms())
}

func TestPointersPerBlockConstant(t *testing.T) {
	require.Equal(t, 64, layout.PointersPerBlock)
}
