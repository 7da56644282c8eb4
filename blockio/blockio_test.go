package blockio_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/werdl/rustnix-fs/blockio"
)

func newDevice(t *testing.T, blocks uint64) *blockio.MemDevice {
	t.Helper()
	buf := make([]byte, blocks*blockio.BlockSize)
	stream := bytesextra.NewReadWriteSeeker(buf)
	return blockio.NewMemDevice(stream, blocks)
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	dev := newDevice(t, 4)

	block := make([]byte, blockio.BlockSize)
	for i := range block {
		block[i] = byte(i % 251)
	}

	require.NoError(t, dev.WriteBlock(2, block))

	got, err := dev.ReadBlock(2)
	require.NoError(t, err)
	require.Equal(t, block, got)
}

func TestReadOutOfBoundsFails(t *testing.T) {
	dev := newDevice(t, 2)

	_, err := dev.ReadBlock(5)
	require.Error(t, err)
}

func TestWriteWrongSizeFails(t *testing.T) {
	dev := newDevice(t, 2)

	err := dev.WriteBlock(0, make([]byte, blockio.BlockSize-1))
	require.Error(t, err)
}

func TestClockFunc(t *testing.T) {
	var clock blockio.Clock = blockio.ClockFunc(func() int64 { return 42 })
	require.Equal(t, int64(42), clock.NowUnixSeconds())
}
