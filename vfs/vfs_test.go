package vfs_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/werdl/rustnix-fs/blockio"
	"github.com/werdl/rustnix-fs/ioflags"
	"github.com/werdl/rustnix-fs/vfs"
)

func newRegistry(t *testing.T) *vfs.Registry {
	t.Helper()
	clock := blockio.ClockFunc(func() int64 { return 1000 })
	return vfs.NewRegistry(clock)
}

func newDevice(numBlocks uint64) blockio.Device {
	buf := make([]byte, numBlocks*blockio.BlockSize)
	return blockio.NewMemDevice(bytesextra.NewReadWriteSeeker(buf), numBlocks)
}

func TestCreateBlankAndOpenWithCreateFlag(t *testing.T) {
	reg := newRegistry(t)
	id := vfs.DiskID{Bus: 0, Disk: 0}
	dev := newDevice(1 + 1024 + 512)

	require.NoError(t, reg.CreateBlank(id, dev, uint64(1+1024+512)*blockio.BlockSize))

	_, err := reg.Open(id, "/etc/users", ioflags.Read)
	require.Error(t, err)

	h, err := reg.Open(id, "/etc/users", ioflags.Read|ioflags.Write|ioflags.Create)
	require.NoError(t, err)
	require.NotNil(t, h)

	exists, err := reg.Exists(id, "/etc/users")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestOpenMissingWithoutCreateFails(t *testing.T) {
	reg := newRegistry(t)
	id := vfs.DiskID{Bus: 0, Disk: 1}
	dev := newDevice(1 + 1024 + 512)
	require.NoError(t, reg.CreateBlank(id, dev, uint64(1+1024+512)*blockio.BlockSize))

	_, err := reg.Open(id, "/missing", ioflags.Read)
	require.Error(t, err)
}

func TestHandleWriteReadSeek(t *testing.T) {
	reg := newRegistry(t)
	id := vfs.DiskID{Bus: 1, Disk: 0}
	dev := newDevice(1 + 1024 + 512)
	require.NoError(t, reg.CreateBlank(id, dev, uint64(1+1024+512)*blockio.BlockSize))

	h, err := reg.Open(id, "/README", ioflags.Read|ioflags.Write|ioflags.Create)
	require.NoError(t, err)

	n, err := h.Write([]byte("Hello, world!"))
	require.NoError(t, err)
	require.Equal(t, 13, n)

	_, err = h.Seek(0)
	require.NoError(t, err)

	buf := make([]byte, 512)
	n, err = h.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 512, n)
	require.Equal(t, []byte("Hello, world!"), buf[:13])

	_, err = h.Seek(13)
	require.NoError(t, err)
	tail := make([]byte, 10)
	n, err = h.Read(tail)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	for _, b := range tail {
		require.Zero(t, b)
	}
}

func TestAppendFlagPositionsAtEnd(t *testing.T) {
	reg := newRegistry(t)
	id := vfs.DiskID{Bus: 2, Disk: 0}
	dev := newDevice(1 + 1024 + 512)
	require.NoError(t, reg.CreateBlank(id, dev, uint64(1+1024+512)*blockio.BlockSize))

	h, err := reg.Open(id, "/log", ioflags.Read|ioflags.Write|ioflags.Create)
	require.NoError(t, err)
	_, err = h.Write([]byte("first"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	appendHandle, err := reg.Open(id, "/log", ioflags.Read|ioflags.Write|ioflags.Append)
	require.NoError(t, err)
	_, err = appendHandle.Write([]byte("-second"))
	require.NoError(t, err)

	// Files are stored as whole 512-byte blocks, so "first" occupies bytes
	// 0..512 and the append lands at offset 512.
	_, err = appendHandle.Seek(0)
	require.NoError(t, err)
	buf := make([]byte, 1024)
	n, err := appendHandle.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 1024, n)
	require.Equal(t, "first", string(buf[:5]))
	require.Equal(t, "-second", string(buf[512:519]))
}

func TestPersistAndRemountPreservesData(t *testing.T) {
	reg := newRegistry(t)
	id := vfs.DiskID{Bus: 3, Disk: 0}
	dev := newDevice(1 + 1024 + 512)
	require.NoError(t, reg.CreateBlank(id, dev, uint64(1+1024+512)*blockio.BlockSize))

	h, err := reg.Open(id, "/a", ioflags.Write|ioflags.Create)
	require.NoError(t, err)
	_, err = h.Write([]byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, h.Flush())

	reg2 := newRegistry(t)
	require.NoError(t, reg2.MountFromDevice(id, dev))

	names, err := reg2.List(id, "/")
	require.NoError(t, err)
	require.Contains(t, names, "/a")
}

func TestDeleteRemovesFromList(t *testing.T) {
	reg := newRegistry(t)
	id := vfs.DiskID{Bus: 4, Disk: 0}
	dev := newDevice(1 + 1024 + 512)
	require.NoError(t, reg.CreateBlank(id, dev, uint64(1+1024+512)*blockio.BlockSize))

	_, err := reg.Open(id, "/a", ioflags.Write|ioflags.Create)
	require.NoError(t, err)

	require.NoError(t, reg.Delete(id, "/a"))
	exists, err := reg.Exists(id, "/a")
	require.NoError(t, err)
	require.False(t, exists)
}
