// Package procfs implements read-only /proc/<pid>/<field> introspection
// entries over a process table and user resolver collaborator, following
// the stream contract every other rustnix-fs readable object implements.
package procfs

import (
	"strconv"

	"github.com/werdl/rustnix-fs/errno"
	"github.com/werdl/rustnix-fs/stream"
)

// Field names the fixed set of introspectable process fields.
type Field string

const (
	FieldPPID       Field = "ppid"
	FieldUsedMemory Field = "used_memory"
	FieldHeapSize   Field = "heap_size"
	FieldUID        Field = "uid"
)

// ProcessInfo is the subset of process-table data a proc entry can report.
type ProcessInfo struct {
	PPID       uint32
	UsedMemory uint64
	HeapSize   uint64
	User       string
}

// ProcessTable resolves a pid to its recorded process info. A missing pid
// reports ok=false.
type ProcessTable interface {
	Lookup(pid uint32) (ProcessInfo, bool)
}

// UserResolver maps a username to a numeric uid.
type UserResolver interface {
	UID(user string) (uint32, bool)
}

// Entry is a single /proc/<pid>/<field> stream. It is read-only: writes and
// seeks always fail.
type Entry struct {
	pid     uint32
	field   Field
	table   ProcessTable
	users   UserResolver
	pending []byte
}

// New constructs a proc entry for pid and field.
func New(pid uint32, field Field, table ProcessTable, users UserResolver) *Entry {
	return &Entry{pid: pid, field: field, table: table, users: users}
}

func (e *Entry) resolve() (string, error) {
	info, ok := e.table.Lookup(e.pid)
	if !ok {
		return "", errno.ErrInvalidPath.WithMessage("unknown pid")
	}

	switch e.field {
	case FieldPPID:
		return strconv.FormatUint(uint64(info.PPID), 10), nil
	case FieldUsedMemory:
		return strconv.FormatUint(info.UsedMemory, 10), nil
	case FieldHeapSize:
		return strconv.FormatUint(info.HeapSize, 10), nil
	case FieldUID:
		if info.User == "" {
			return "", errno.ErrReadError.WithMessage("process has no associated user")
		}
		uid, ok := e.users.UID(info.User)
		if !ok {
			return "", errno.ErrReadError.WithMessage("unknown user")
		}
		return strconv.FormatUint(uint64(uid), 10), nil
	default:
		return "", errno.ErrInvalidPath.WithMessage(string(e.field))
	}
}

// Read formats the resolved field as decimal text on first call and copies
// successive chunks of it into buf across repeated calls.
func (e *Entry) Read(buf []byte) (int, error) {
	if e.pending == nil {
		text, err := e.resolve()
		if err != nil {
			return 0, err
		}
		e.pending = []byte(text)
	}
	n := copy(buf, e.pending)
	e.pending = e.pending[n:]
	return n, nil
}

func (e *Entry) Write(buf []byte) (int, error) {
	return 0, errno.ErrUnwritableFile
}

func (e *Entry) Seek(offset int64) (int64, error) {
	return 0, errno.ErrUnwritableFile
}

func (e *Entry) Flush() error { return nil }
func (e *Entry) Close() error { return nil }

func (e *Entry) Poll(event stream.Event) (bool, error) {
	return event == stream.EventRead, nil
}

var _ stream.Stream = (*Entry)(nil)
