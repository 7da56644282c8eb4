package procfs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/werdl/rustnix-fs/procfs"
)

type fakeTable struct {
	procs map[uint32]procfs.ProcessInfo
}

func (f *fakeTable) Lookup(pid uint32) (procfs.ProcessInfo, bool) {
	info, ok := f.procs[pid]
	return info, ok
}

type fakeUsers struct {
	uids map[string]uint32
}

func (f *fakeUsers) UID(user string) (uint32, bool) {
	uid, ok := f.uids[user]
	return uid, ok
}

func TestReadsPPID(t *testing.T) {
	table := &fakeTable{procs: map[uint32]procfs.ProcessInfo{
		1: {PPID: 0, UsedMemory: 4096, HeapSize: 8192, User: "root"},
	}}
	users := &fakeUsers{uids: map[string]uint32{"root": 0}}

	e := procfs.New(1, procfs.FieldPPID, table, users)
	buf := make([]byte, 16)
	n, err := e.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "0", string(buf[:n]))
}

func TestReadsUIDThroughResolver(t *testing.T) {
	table := &fakeTable{procs: map[uint32]procfs.ProcessInfo{
		2: {User: "alice"},
	}}
	users := &fakeUsers{uids: map[string]uint32{"alice": 501}}

	e := procfs.New(2, procfs.FieldUID, table, users)
	buf := make([]byte, 16)
	n, err := e.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "501", string(buf[:n]))
}

func TestUnknownPidFails(t *testing.T) {
	table := &fakeTable{procs: map[uint32]procfs.ProcessInfo{}}
	users := &fakeUsers{}

	e := procfs.New(99, procfs.FieldPPID, table, users)
	_, err := e.Read(make([]byte, 16))
	require.Error(t, err)
}

func TestUnsetUserFails(t *testing.T) {
	table := &fakeTable{procs: map[uint32]procfs.ProcessInfo{3: {}}}
	users := &fakeUsers{}

	e := procfs.New(3, procfs.FieldUID, table, users)
	_, err := e.Read(make([]byte, 16))
	require.Error(t, err)
}

func TestWriteAndSeekAreErrors(t *testing.T) {
	table := &fakeTable{procs: map[uint32]procfs.ProcessInfo{1: {}}}
	e := procfs.New(1, procfs.FieldPPID, table, &fakeUsers{})

	_, err := e.Write([]byte("x"))
	require.Error(t, err)
	_, err = e.Seek(0)
	require.Error(t, err)
}

func TestReadSplitsAcrossCalls(t *testing.T) {
	table := &fakeTable{procs: map[uint32]procfs.ProcessInfo{1: {UsedMemory: 123456}}}
	e := procfs.New(1, procfs.FieldUsedMemory, table, &fakeUsers{})

	first := make([]byte, 3)
	n, err := e.Read(first)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	rest := make([]byte, 16)
	n, err = e.Read(rest)
	require.NoError(t, err)
	require.Equal(t, "123456", string(first)+string(rest[:n]))
}
