package transport

import (
	"io"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// loopbackCapacity is the number of written chunks the loopback holds
// before Write waits for the reader.
const loopbackCapacity = 64

// Loopback is an in-memory transport whose reads return what was written.
//
// It is backed by a bounded single-producer single-consumer queue: one
// goroutine may write while another reads. Full and empty queues are
// waited out with adaptive backoff.
type Loopback struct {
	q      lfq.SPSC[[]byte]
	head   []byte
	closed atomix.Uint32

	// Writes entered and left. Equal counts mean no Write is between
	// its closed check and its enqueue.
	started  atomix.Uint32
	finished atomix.Uint32
}

// NewLoopback creates an empty loopback transport.
func NewLoopback() *Loopback {
	lb := &Loopback{}
	lb.q.Init(loopbackCapacity)
	return lb
}

// Name returns "loopback".
func (lb *Loopback) Name() string {
	return "loopback"
}

// Write queues a copy of b for reading.
func (lb *Loopback) Write(b []byte) (int, error) {
	lb.started.Add(1)
	defer lb.finished.Add(1)
	if lb.closed.Load() != 0 {
		return 0, io.ErrClosedPipe
	}
	if len(b) == 0 {
		return 0, nil
	}
	chunk := append([]byte(nil), b...)
	var bo iox.Backoff
	for {
		err := lb.q.Enqueue(&chunk)
		if err == nil {
			return len(b), nil
		}
		if !iox.IsWouldBlock(err) {
			return 0, err
		}
		if lb.closed.Load() != 0 {
			return 0, io.ErrClosedPipe
		}
		bo.Wait()
	}
}

// Flush reports whether the loopback is still open; writes are visible
// to the reader as soon as Write returns.
func (lb *Loopback) Flush() error {
	if lb.closed.Load() != 0 {
		return io.ErrClosedPipe
	}
	return nil
}

// Read returns queued bytes, waiting while none are available. After
// Close it drains what is left and then reports io.EOF.
func (lb *Loopback) Read(b []byte) (int, error) {
	if len(lb.head) > 0 {
		n := copy(b, lb.head)
		lb.head = lb.head[n:]
		return n, nil
	}
	var bo iox.Backoff
	for {
		closed := lb.closed.Load() != 0 && lb.idle()
		chunk, err := lb.q.Dequeue()
		if err == nil {
			n := copy(b, chunk)
			lb.head = chunk[n:]
			return n, nil
		}
		if !iox.IsWouldBlock(err) {
			return 0, err
		}
		// Close and the end of every write that passed its closed check
		// were observed before the empty queue.
		if closed {
			return 0, io.EOF
		}
		bo.Wait()
	}
}

// idle reports whether every Write that has started has also returned.
// Write bumps started before it checks closed, so after Close is seen no
// accepted write can be missing from the counts.
func (lb *Loopback) idle() bool {
	s := lb.started.Load()
	f := lb.finished.Load()
	return f == s && lb.started.Load() == s
}

// Close makes further writes fail and lets readers drain to io.EOF.
func (lb *Loopback) Close() error {
	lb.closed.Add(1)
	return nil
}
