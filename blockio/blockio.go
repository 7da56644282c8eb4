// Package blockio defines the block-device and clock contracts rustnix-fs
// is built against, plus an in-memory device implementation used by tests
// and by the disk-image builder.
package blockio

import (
	"fmt"
	"io"

	"github.com/werdl/rustnix-fs/errno"
)

// BlockSize is the fixed block size every rustnix-fs structure (superblock,
// inode, data block) is laid out in.
const BlockSize = 512

// Device is the block-device contract consumed by the physical filesystem:
// a fixed-size disk addressed by logical block number, identified externally
// by a (bus, drive) pair. Implementations are free to back this with a real
// disk, a BIOS int 13h shim, or (as here) an in-memory buffer.
type Device interface {
	// ReadBlock returns the contents of block lba. The returned slice is
	// exactly BlockSize bytes.
	ReadBlock(lba uint64) ([]byte, error)
	// WriteBlock writes data, which must be exactly BlockSize bytes, to
	// block lba.
	WriteBlock(lba uint64, data []byte) error
	// BlockCount reports the total addressable blocks on the device.
	BlockCount() uint64
}

// Clock supplies the current time as Unix seconds. The vfs registry and the
// random device take their timestamps and seed from a Clock rather than
// time.Now, so tests can hold time fixed; physfs and diskimage take the
// timestamp as an explicit argument instead.
type Clock interface {
	NowUnixSeconds() int64
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() int64

// NowUnixSeconds implements Clock.
func (f ClockFunc) NowUnixSeconds() int64 {
	return f()
}

// MemDevice is a Device backed by an in-memory io.ReadWriteSeeker, the way
// the disk-image builder and every package's tests exercise the filesystem
// without touching a real disk.
type MemDevice struct {
	stream     io.ReadWriteSeeker
	blockCount uint64
}

// NewMemDevice wraps stream, which must already hold exactly
// blockCount*BlockSize bytes, as a Device.
func NewMemDevice(stream io.ReadWriteSeeker, blockCount uint64) *MemDevice {
	return &MemDevice{stream: stream, blockCount: blockCount}
}

// BlockCount implements Device.
func (d *MemDevice) BlockCount() uint64 {
	return d.blockCount
}

func (d *MemDevice) checkBounds(lba uint64) error {
	if lba >= d.blockCount {
		return errno.ErrInvalidDataBlock.WithMessage(
			fmt.Sprintf("block %d not in range [0, %d)", lba, d.blockCount))
	}
	return nil
}

// ReadBlock implements Device.
func (d *MemDevice) ReadBlock(lba uint64) ([]byte, error) {
	if err := d.checkBounds(lba); err != nil {
		return nil, err
	}
	if _, err := d.stream.Seek(int64(lba)*BlockSize, io.SeekStart); err != nil {
		return nil, errno.ErrReadError.Wrap(err)
	}
	buf := make([]byte, BlockSize)
	if _, err := io.ReadFull(d.stream, buf); err != nil {
		return nil, errno.ErrReadError.Wrap(err)
	}
	return buf, nil
}

// WriteBlock implements Device.
func (d *MemDevice) WriteBlock(lba uint64, data []byte) error {
	if len(data) != BlockSize {
		return errno.ErrWriteError.WithMessage(
			fmt.Sprintf("write of %d bytes is not a whole block", len(data)))
	}
	if err := d.checkBounds(lba); err != nil {
		return err
	}
	if _, err := d.stream.Seek(int64(lba)*BlockSize, io.SeekStart); err != nil {
		return errno.ErrWriteError.Wrap(err)
	}
	if _, err := d.stream.Write(data); err != nil {
		return errno.ErrWriteError.Wrap(err)
	}
	return nil
}
