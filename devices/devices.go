// Package devices implements the fixed set of pseudo-devices rustnix-fs
// exposes: zero, null, random, and the console streams stdin/stdout/stderr.
package devices

import (
	"math/rand"

	"github.com/werdl/rustnix-fs/blockio"
	"github.com/werdl/rustnix-fs/errno"
	"github.com/werdl/rustnix-fs/ioflags"
	"github.com/werdl/rustnix-fs/stream"
)

// Zero is /dev/zero: reads fill the buffer with zero bytes; writes discard
// their input and report success.
type Zero struct {
	flags ioflags.Flags
}

// NewZero constructs a zero device opened with the given flags.
func NewZero(flags ioflags.Flags) *Zero {
	return &Zero{flags: flags}
}

func (z *Zero) Read(buf []byte) (int, error) {
	if !z.flags.CanRead() {
		return 0, errno.ErrUnreadableFile
	}
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), nil
}

func (z *Zero) Write(buf []byte) (int, error) {
	if !z.flags.CanWrite() {
		return 0, errno.ErrUnwritableFile
	}
	return len(buf), nil
}

func (z *Zero) Seek(offset int64) (int64, error) { return offset, nil }
func (z *Zero) Flush() error                     { return nil }
func (z *Zero) Close() error                     { return nil }

func (z *Zero) Poll(event stream.Event) (bool, error) {
	switch event {
	case stream.EventRead:
		return z.flags.CanRead(), nil
	case stream.EventWrite:
		return z.flags.CanWrite(), nil
	default:
		return false, nil
	}
}

var _ stream.Stream = (*Zero)(nil)

// Null is /dev/null: reads always report end-of-stream; writes delegate to
// a wrapped Zero (the inner field) so the discard behavior isn't
// implemented twice.
type Null struct {
	inner *Zero
}

// NewNull constructs a null device opened with the given flags.
func NewNull(flags ioflags.Flags) *Null {
	return &Null{inner: NewZero(flags)}
}

func (n *Null) Read(buf []byte) (int, error) {
	if !n.inner.flags.CanRead() {
		return 0, errno.ErrUnreadableFile
	}
	return 0, nil
}

func (n *Null) Write(buf []byte) (int, error)    { return n.inner.Write(buf) }
func (n *Null) Seek(offset int64) (int64, error) { return n.inner.Seek(offset) }
func (n *Null) Flush() error                     { return n.inner.Flush() }
func (n *Null) Close() error                     { return n.inner.Close() }
func (n *Null) Poll(event stream.Event) (bool, error) {
	return n.inner.Poll(event)
}

var _ stream.Stream = (*Null)(nil)

// Random is /dev/random: reads fill the buffer from a small PRNG seeded at
// construction; it is not cryptographically secure and was never meant to
// be. Writes always fail.
type Random struct {
	flags ioflags.Flags
	rng   *rand.Rand
}

// NewRandom constructs a random device seeded from clock's current time.
// The caller's clock, not time.Now, is the only source of the seed so
// behavior is reproducible under test.
func NewRandom(flags ioflags.Flags, clock blockio.Clock) *Random {
	return &Random{
		flags: flags,
		rng:   rand.New(rand.NewSource(clock.NowUnixSeconds())),
	}
}

func (r *Random) Read(buf []byte) (int, error) {
	if !r.flags.CanRead() {
		return 0, errno.ErrUnreadableFile
	}
	r.rng.Read(buf)
	return len(buf), nil
}

func (r *Random) Write(buf []byte) (int, error) {
	if !r.flags.CanWrite() {
		return 0, errno.ErrUnwritableFile
	}
	return 0, errno.ErrUnwritableFile.WithMessage("cannot write to random device")
}

func (r *Random) Seek(offset int64) (int64, error) { return offset, nil }
func (r *Random) Flush() error                     { return nil }
func (r *Random) Close() error                     { return nil }

func (r *Random) Poll(event stream.Event) (bool, error) {
	switch event {
	case stream.EventRead:
		return r.flags.CanRead(), nil
	case stream.EventWrite:
		return r.flags.CanWrite(), nil
	default:
		return false, nil
	}
}

var _ stream.Stream = (*Random)(nil)

// LineSource feeds stdin one line at a time, as the keyboard driver would.
type LineSource interface {
	ReadLine() (string, error)
}

// TextSink accepts text for stdout/stderr, as the console driver would.
type TextSink interface {
	WriteText(s string) error
}

// Stdin is /dev/stdin: each read returns one byte of the current line,
// pulling a fresh line from the collaborator once the buffered one is
// exhausted.
type Stdin struct {
	flags  ioflags.Flags
	source LineSource
	buffer []byte
}

// NewStdin constructs a stdin device reading lines from source.
func NewStdin(flags ioflags.Flags, source LineSource) *Stdin {
	return &Stdin{flags: flags, source: source}
}

func (s *Stdin) Read(buf []byte) (int, error) {
	if !s.flags.CanRead() {
		return 0, errno.ErrUnreadableFile
	}
	if len(s.buffer) == 0 {
		line, err := s.source.ReadLine()
		if err != nil {
			return 0, errno.ErrReadError.Wrap(err)
		}
		s.buffer = []byte(line)
	}
	n := copy(buf, s.buffer[:min(1, len(s.buffer))])
	s.buffer = s.buffer[n:]
	return n, nil
}

func (s *Stdin) Write(buf []byte) (int, error) {
	return 0, errno.ErrUnwritableFile
}

func (s *Stdin) Seek(offset int64) (int64, error) { return offset, nil }
func (s *Stdin) Flush() error                     { return nil }
func (s *Stdin) Close() error                     { return nil }

func (s *Stdin) Poll(event stream.Event) (bool, error) {
	if event == stream.EventRead {
		return s.flags.CanRead(), nil
	}
	return false, nil
}

var _ stream.Stream = (*Stdin)(nil)

// consoleOutput is shared by Stdout and Stderr: writes are forwarded to a
// TextSink collaborator; reads always fail.
type consoleOutput struct {
	flags ioflags.Flags
	sink  TextSink
}

func (c *consoleOutput) Read(buf []byte) (int, error) {
	return 0, errno.ErrUnreadableFile
}

func (c *consoleOutput) Write(buf []byte) (int, error) {
	if !c.flags.CanWrite() {
		return 0, errno.ErrUnwritableFile
	}
	if err := c.sink.WriteText(string(buf)); err != nil {
		return 0, errno.ErrWriteError.Wrap(err)
	}
	return len(buf), nil
}

func (c *consoleOutput) Seek(offset int64) (int64, error) { return offset, nil }
func (c *consoleOutput) Flush() error                     { return nil }
func (c *consoleOutput) Close() error                     { return nil }

func (c *consoleOutput) Poll(event stream.Event) (bool, error) {
	if event == stream.EventWrite {
		return c.flags.CanWrite(), nil
	}
	return false, nil
}

// Stdout is /dev/stdout.
type Stdout struct{ consoleOutput }

// NewStdout constructs a stdout device writing through sink.
func NewStdout(flags ioflags.Flags, sink TextSink) *Stdout {
	return &Stdout{consoleOutput{flags: flags, sink: sink}}
}

var _ stream.Stream = (*Stdout)(nil)

// Stderr is /dev/stderr.
type Stderr struct{ consoleOutput }

// NewStderr constructs a stderr device writing through sink.
func NewStderr(flags ioflags.Flags, sink TextSink) *Stderr {
	return &Stderr{consoleOutput{flags: flags, sink: sink}}
}

var _ stream.Stream = (*Stderr)(nil)

// ID names one of the fixed pseudo-device identities.
type ID string

const (
	IDZero   ID = "zero"
	IDNull   ID = "null"
	IDRandom ID = "random"
	IDStdin  ID = "stdin"
	IDStdout ID = "stdout"
	IDStderr ID = "stderr"
)

// Collaborators bundles the external sources a device registry needs to
// construct stdin/stdout/stderr/random.
type Collaborators struct {
	Clock  blockio.Clock
	Lines  LineSource
	Stdout TextSink
	Stderr TextSink
}

// Open constructs the pseudo-device named by id with the given flags. The
// set of valid ids is closed; an unknown id fails InvalidPath.
func Open(id ID, flags ioflags.Flags, collab Collaborators) (stream.Stream, error) {
	switch id {
	case IDZero:
		return NewZero(flags), nil
	case IDNull:
		return NewNull(flags), nil
	case IDRandom:
		return NewRandom(flags, collab.Clock), nil
	case IDStdin:
		return NewStdin(flags, collab.Lines), nil
	case IDStdout:
		return NewStdout(flags, collab.Stdout), nil
	case IDStderr:
		return NewStderr(flags, collab.Stderr), nil
	default:
		return nil, errno.ErrInvalidPath.WithMessage(string(id))
	}
}
