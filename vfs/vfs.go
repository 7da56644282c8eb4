// Package vfs implements the process-wide virtual-filesystem registry
// keyed by (bus, disk) and the file-handle stream exposed to callers.
//
// This package never hands out a *physfs.PhysFs directly: every registry
// access goes through with, which holds the registry lock only for the
// duration of the callback, so no caller can retain a mount past its
// critical section or its lifetime.
package vfs

import (
	"sync"

	"github.com/werdl/rustnix-fs/blockio"
	"github.com/werdl/rustnix-fs/errno"
	"github.com/werdl/rustnix-fs/ioflags"
	"github.com/werdl/rustnix-fs/layout"
	"github.com/werdl/rustnix-fs/physfs"
	"github.com/werdl/rustnix-fs/stream"
)

// DiskID identifies a mounted filesystem by the bus and drive it was
// mounted from.
type DiskID struct {
	Bus  uint8
	Disk uint8
}

// Registry is the process-wide (bus, disk) -> mounted filesystem map.
// Construct it with NewRegistry; the zero value has no mount map and no
// clock.
type Registry struct {
	mu     sync.Mutex
	mounts map[DiskID]*mount
	clock  blockio.Clock
}

type mount struct {
	fs  *physfs.PhysFs
	dev blockio.Device
}

// NewRegistry constructs an empty registry. clock supplies timestamps for
// every create/write on any filesystem mounted through it.
func NewRegistry(clock blockio.Clock) *Registry {
	return &Registry{mounts: make(map[DiskID]*mount), clock: clock}
}

// MountFromDevice loads a filesystem from dev and inserts it under id.
func (r *Registry) MountFromDevice(id DiskID, dev blockio.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.mounts[id]; exists {
		return errno.ErrFilesystemExists
	}

	fs, err := physfs.FromDevice(dev)
	if err != nil {
		return errno.ErrFilesystemNotFound.Wrap(err)
	}
	r.mounts[id] = &mount{fs: fs, dev: dev}
	return nil
}

// CreateBlank formats and inserts a fresh filesystem under id, sized for
// sizeBytes total bytes: 1024 inodes with a matching 1024-block inode
// table, and (sizeBytes/512) - 1024 - 1 data blocks.
func (r *Registry) CreateBlank(id DiskID, dev blockio.Device, sizeBytes uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.mounts[id]; exists {
		return errno.ErrFilesystemExists
	}

	const fixedInodes = 1024
	totalBlocks := sizeBytes / layout.BlockSize
	if totalBlocks <= fixedInodes+1 {
		return errno.ErrDiskFull.WithMessage("disk too small for the fixed inode table")
	}
	numDataBlocks := totalBlocks - fixedInodes - 1

	fs := physfs.NewBlank(fixedInodes, numDataBlocks)
	r.mounts[id] = &mount{fs: fs, dev: dev}
	return nil
}

// with runs fn against the mounted filesystem for id while holding the
// registry lock, returning FilesystemNotFound if nothing is mounted there.
// No reference to the filesystem escapes this call.
func (r *Registry) with(id DiskID, fn func(*mount) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mounts[id]
	if !ok {
		return errno.ErrFilesystemNotFound
	}
	return fn(m)
}

// Persist writes the mounted filesystem for id back to its device.
func (r *Registry) Persist(id DiskID) error {
	return r.with(id, func(m *mount) error {
		return m.fs.ToDevice(m.dev)
	})
}

// Exists reports whether path names a live file on the filesystem mounted
// at id.
func (r *Registry) Exists(id DiskID, path string) (bool, error) {
	var exists bool
	err := r.with(id, func(m *mount) error {
		exists = m.fs.Exists(path)
		return nil
	})
	return exists, err
}

// Delete removes path from the filesystem mounted at id.
func (r *Registry) Delete(id DiskID, path string) error {
	return r.with(id, func(m *mount) error {
		return m.fs.DeleteFile(path)
	})
}

// Chmod patches path's permission triple on the filesystem mounted at id.
func (r *Registry) Chmod(id DiskID, path string, perms [3]byte) error {
	return r.with(id, func(m *mount) error {
		return m.fs.Chmod(path, perms)
	})
}

// Chown patches path's owner on the filesystem mounted at id.
func (r *Registry) Chown(id DiskID, path string, owner uint64) error {
	return r.with(id, func(m *mount) error {
		return m.fs.Chown(path, owner)
	})
}

// GetOwner returns path's owner on the filesystem mounted at id.
func (r *Registry) GetOwner(id DiskID, path string) (uint64, error) {
	var owner uint64
	err := r.with(id, func(m *mount) error {
		meta, err := m.fs.GetMetadata(path)
		if err != nil {
			return err
		}
		owner = meta.Owner
		return nil
	})
	return owner, err
}

// GetPerms returns path's permission triple on the filesystem mounted at id.
func (r *Registry) GetPerms(id DiskID, path string) ([3]byte, error) {
	var perms [3]byte
	err := r.with(id, func(m *mount) error {
		meta, err := m.fs.GetMetadata(path)
		if err != nil {
			return err
		}
		perms = meta.Perms()
		return nil
	})
	return perms, err
}

// List returns every live filename starting with prefix on the filesystem
// mounted at id.
func (r *Registry) List(id DiskID, prefix string) ([]string, error) {
	var names []string
	err := r.with(id, func(m *mount) error {
		names = m.fs.List(prefix)
		return nil
	})
	return names, err
}

// defaultOwner and defaultPerms are applied when Open creates a file via
// the Create flag.
const defaultOwner = 0

var defaultPerms = [3]byte{6, 6, 6}

// Open returns a stream-backed file handle for path on the filesystem
// mounted at id. If the file is absent and flags includes Create, it is
// created with default owner 0 and permissions [6,6,6] before opening;
// otherwise a missing file fails FileNotFound. If Append is set, the
// handle's cursor starts at the current end of the file.
func (r *Registry) Open(id DiskID, path string, flags ioflags.Flags) (*Handle, error) {
	var handle *Handle
	err := r.with(id, func(m *mount) error {
		if !m.fs.Exists(path) {
			if !flags.ShouldCreate() {
				return errno.ErrFileNotFound.WithMessage(path)
			}
			if err := m.fs.CreateFile(path, defaultPerms, defaultOwner, uint64(r.clock.NowUnixSeconds())); err != nil {
				return err
			}
		} else if flags.ShouldTruncate() {
			if err := m.fs.WriteFile(path, nil, nil, nil, uint64(r.clock.NowUnixSeconds())); err != nil {
				return err
			}
		}

		position := int64(0)
		if flags.ShouldAppend() {
			data, _, err := m.fs.ReadFile(path)
			if err != nil {
				return err
			}
			position = int64(len(data))
		}

		handle = &Handle{
			registry: r,
			id:       id,
			path:     path,
			flags:    flags,
			position: position,
		}
		return nil
	})
	return handle, err
}

// Handle is a stream view over a named file: a path, the mount it belongs
// to, a flag bitmask and a position cursor. It is not safe for concurrent
// use but is re-entrant across sequential operations.
type Handle struct {
	registry *Registry
	id       DiskID
	path     string
	flags    ioflags.Flags
	position int64
}

// Read copies min(len(buf), fileLen-position) bytes from the file's current
// position and advances the cursor.
func (h *Handle) Read(buf []byte) (int, error) {
	if !h.flags.CanRead() {
		return 0, errno.ErrUnreadableFile
	}

	var n int
	err := h.registry.with(h.id, func(m *mount) error {
		data, _, err := m.fs.ReadFile(h.path)
		if err != nil {
			return err
		}
		if h.position >= int64(len(data)) {
			return nil
		}
		n = copy(buf, data[h.position:])
		return nil
	})
	if err != nil {
		return 0, err
	}
	h.position += int64(n)
	return n, nil
}

// Write reads the current file, zero-extends it if the cursor is past the
// end, splices buf in at the cursor, writes the result back, and advances
// the cursor by len(buf).
func (h *Handle) Write(buf []byte) (int, error) {
	if !h.flags.CanWrite() {
		return 0, errno.ErrUnwritableFile
	}

	err := h.registry.with(h.id, func(m *mount) error {
		data, _, err := m.fs.ReadFile(h.path)
		if err != nil {
			return err
		}

		writeAt := h.position
		if h.flags.ShouldAppend() {
			writeAt = int64(len(data))
		}

		needed := writeAt + int64(len(buf))
		if int64(len(data)) < needed {
			grown := make([]byte, needed)
			copy(grown, data)
			data = grown
		}
		copy(data[writeAt:], buf)

		if err := m.fs.WriteFile(h.path, data, nil, nil, uint64(h.registry.clock.NowUnixSeconds())); err != nil {
			return err
		}
		h.position = writeAt + int64(len(buf))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Seek sets the handle's absolute position.
func (h *Handle) Seek(offset int64) (int64, error) {
	h.position = offset
	return h.position, nil
}

// Flush persists the whole mounted filesystem to its device.
func (h *Handle) Flush() error {
	return h.registry.Persist(h.id)
}

// Close releases the handle. rustnix-fs's handles hold no resources beyond
// the mount itself, so this is a no-op.
func (h *Handle) Close() error {
	return nil
}

// Poll reports whether the handle's flags permit the requested operation.
func (h *Handle) Poll(event stream.Event) (bool, error) {
	switch event {
	case stream.EventRead:
		return h.flags.CanRead(), nil
	case stream.EventWrite:
		return h.flags.CanWrite(), nil
	default:
		return false, nil
	}
}

var _ stream.Stream = (*Handle)(nil)
