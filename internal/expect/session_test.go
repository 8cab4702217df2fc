package expect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeTransport hands out one queued chunk per Read. Closing chunks makes
// Read report io.EOF. When loopback is set, writes are queued as reads.
type fakeTransport struct {
	chunks   chan []byte
	loopback bool

	mu        sync.Mutex
	written   bytes.Buffer
	flushes   int
	readSizes []int
	writeErr  error
	flushErr  error
	readErr   error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{chunks: make(chan []byte, 64)}
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	f.mu.Lock()
	f.readSizes = append(f.readSizes, len(p))
	readErr := f.readErr
	f.mu.Unlock()
	if readErr != nil {
		return 0, readErr
	}
	chunk, ok := <-f.chunks
	if !ok {
		return 0, io.EOF
	}
	return copy(p, chunk), nil
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written.Write(p)
	if f.loopback {
		f.chunks <- append([]byte(nil), p...)
	}
	return len(p), nil
}

func (f *fakeTransport) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flushErr != nil {
		return f.flushErr
	}
	f.flushes++
	return nil
}

func (f *fakeTransport) feed(s string) {
	f.chunks <- []byte(s)
}

func (f *fakeTransport) writtenBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.written.Bytes()...)
}

func (f *fakeTransport) flushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

type expectRecord struct {
	needle  string
	outcome Outcome
}

type recordingObserver struct {
	mu      sync.Mutex
	read    int
	written int
	expects []expectRecord
}

func (o *recordingObserver) BytesRead(_ context.Context, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.read += n
}

func (o *recordingObserver) BytesWritten(_ context.Context, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.written += n
}

func (o *recordingObserver) ExpectDone(_ context.Context, n Needle, outcome Outcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.expects = append(o.expects, expectRecord{n.String(), outcome})
}

func TestSession_RoundTrip(t *testing.T) {
	tr := newFakeTransport()
	tr.loopback = true
	sess := New(tr, WithTimeout(time.Second))
	ctx := context.Background()

	if err := sess.Send("PING\n"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	before, matched, err := sess.Expect(ctx, Literal("PING"))
	if err != nil {
		t.Fatalf("Expect(PING) error: %v", err)
	}
	if before != "" || matched != "PING" {
		t.Errorf("Expect(PING) = (%q, %q), want (\"\", \"PING\")", before, matched)
	}
	if got := sess.Buffer(); got != "\n" {
		t.Errorf("Buffer() = %q, want %q", got, "\n")
	}

	before, matched, err = sess.Expect(ctx, Literal("\n"))
	if err != nil {
		t.Fatalf("Expect(newline) error: %v", err)
	}
	if before != "" || matched != "\n" {
		t.Errorf("Expect(newline) = (%q, %q), want (\"\", \"\\n\")", before, matched)
	}
	if got := sess.Buffer(); got != "" {
		t.Errorf("Buffer() = %q, want empty", got)
	}
}

func TestSession_PreambleAndRemainder(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr, WithTimeout(time.Second))

	tr.feed("login: admin\nPassword: ")
	before, matched, err := sess.Expect(context.Background(), MustCompile(`[Pp]assword: ?`))
	if err != nil {
		t.Fatalf("Expect() error: %v", err)
	}
	if before != "login: admin\n" {
		t.Errorf("before = %q, want %q", before, "login: admin\n")
	}
	if matched != "Password: " {
		t.Errorf("matched = %q, want %q", matched, "Password: ")
	}
}

func TestSession_AccumulatesAcrossReads(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr, WithTimeout(time.Second))

	tr.feed("hel")
	tr.feed("lo wo")
	tr.feed("rld!")
	before, matched, err := sess.Expect(context.Background(), Literal("world"))
	if err != nil {
		t.Fatalf("Expect() error: %v", err)
	}
	if before != "hello " || matched != "world" {
		t.Errorf("Expect() = (%q, %q), want (%q, %q)", before, matched, "hello ", "world")
	}
	// The trailing "!" may arrive in the same or a later read; it must not be lost.
	if _, rest, err := sess.Expect(context.Background(), Literal("!")); err != nil || rest != "!" {
		t.Errorf("Expect(!) = %q, %v", rest, err)
	}
}

func TestSession_ExpectTimeout(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr, WithTimeout(100*time.Millisecond))

	start := time.Now()
	_, _, err := sess.Expect(context.Background(), Literal("never"))
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expect() error = %v, want ErrTimeout", err)
	}
	if elapsed < 90*time.Millisecond {
		t.Errorf("timed out too early: %v", elapsed)
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("timed out too late: %v", elapsed)
	}
}

func TestSession_DeadlineCoversWholeCall(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr, WithTimeout(150*time.Millisecond))

	// Keep data flowing so that a per-read deadline would never fire.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case tr.chunks <- []byte("."):
				default:
				}
			}
		}
	}()

	start := time.Now()
	_, _, err := sess.Expect(context.Background(), Literal("never"))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expect() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("deadline was reset by reads: elapsed %v", elapsed)
	}
}

func TestSession_DeadlineDoesNotFireOnArming(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr, WithTimeout(200*time.Millisecond))

	go func() {
		time.Sleep(30 * time.Millisecond)
		tr.feed("ready")
	}()

	_, matched, err := sess.Expect(context.Background(), Literal("ready"))
	if err != nil {
		t.Fatalf("Expect() error: %v (the deadline must not fire when armed)", err)
	}
	if matched != "ready" {
		t.Errorf("matched = %q, want %q", matched, "ready")
	}
}

func TestSession_NoTimeoutWaits(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr)
	if sess.Timeout() != 0 {
		t.Fatalf("Timeout() = %v, want 0", sess.Timeout())
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		tr.feed("late")
	}()

	if _, matched, err := sess.Expect(context.Background(), Literal("late")); err != nil || matched != "late" {
		t.Fatalf("Expect() = %q, %v", matched, err)
	}
}

func TestSession_TimeoutKeepsBuffer(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr, WithTimeout(80*time.Millisecond))
	ctx := context.Background()

	tr.feed("first ")
	if _, _, err := sess.Expect(ctx, Literal("second")); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expect() error = %v, want ErrTimeout", err)
	}
	if got := sess.Buffer(); got != "first " {
		t.Fatalf("Buffer() after timeout = %q, want %q", got, "first ")
	}

	// This chunk is picked up by the read the timed-out call left pending.
	tr.feed("second")
	before, matched, err := sess.Expect(ctx, Literal("second"))
	if err != nil {
		t.Fatalf("Expect() after timeout error: %v", err)
	}
	if before != "first " || matched != "second" {
		t.Errorf("Expect() = (%q, %q), want (%q, %q)", before, matched, "first ", "second")
	}
}

func TestSession_ContextCanceled(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, _, err := sess.Expect(ctx, Literal("never"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expect() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("cancellation must not be reported as a timeout")
	}
}

func TestSession_ContextDeadlineIsTimeout(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, _, err := sess.Expect(ctx, Literal("never")); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expect() error = %v, want ErrTimeout", err)
	}
}

func TestSession_ZeroLengthRead(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr, WithTimeout(time.Second))

	tr.feed("")
	tr.feed("")
	tr.feed("data")
	if _, matched, err := sess.Expect(context.Background(), Literal("data")); err != nil || matched != "data" {
		t.Fatalf("Expect() = %q, %v", matched, err)
	}
}

func TestSession_EndOfStream(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr, WithTimeout(time.Second))
	ctx := context.Background()

	tr.feed("partial tail")
	close(tr.chunks)

	// Bytes accepts a short remainder once the stream has ended.
	_, matched, err := sess.Expect(ctx, Bytes(100))
	if err != nil {
		t.Fatalf("Expect(Bytes) error: %v", err)
	}
	if matched != "partial tail" {
		t.Errorf("matched = %q, want %q", matched, "partial tail")
	}

	// Nothing is left and the stream is over.
	if _, _, err := sess.Expect(ctx, Literal("more")); !errors.Is(err, ErrEOF) {
		t.Errorf("Expect() after end error = %v, want ErrEOF", err)
	}
	_, matched, err = sess.Expect(ctx, EOF())
	if err != nil || matched != "" {
		t.Errorf("Expect(EOF) = %q, %v, want empty match", matched, err)
	}
}

func TestSession_EOFNeedle(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr, WithTimeout(time.Second))

	tr.feed("bye\n")
	close(tr.chunks)

	before, matched, err := sess.Expect(context.Background(), EOF())
	if err != nil {
		t.Fatalf("Expect(EOF) error: %v", err)
	}
	if before != "" || matched != "bye\n" {
		t.Errorf("Expect(EOF) = (%q, %q), want (\"\", %q)", before, matched, "bye\n")
	}
}

func TestSession_EOFNeedleNeverMatchesLiveStream(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr, WithTimeout(60*time.Millisecond))

	tr.feed("still running")
	if _, _, err := sess.Expect(context.Background(), EOF()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expect(EOF) on open stream error = %v, want ErrTimeout", err)
	}
}

func TestSession_ReadError(t *testing.T) {
	boom := errors.New("connection reset")
	tr := newFakeTransport()
	tr.readErr = boom
	sess := New(tr, WithTimeout(time.Second))

	_, _, err := sess.Expect(context.Background(), Literal("x"))
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Expect() error = %v, want *TransportError", err)
	}
	if te.Op != "read" {
		t.Errorf("Op = %q, want %q", te.Op, "read")
	}
	if !errors.Is(err, boom) {
		t.Errorf("error does not unwrap to the transport error: %v", err)
	}
}

func TestSession_SendAndSendLine(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr)

	if err := sess.Send("ls"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if err := sess.SendLine(" -la"); err != nil {
		t.Fatalf("SendLine() error: %v", err)
	}
	if got := string(tr.writtenBytes()); got != "ls -la\n" {
		t.Errorf("written = %q, want %q", got, "ls -la\n")
	}
	if tr.flushCount() != 0 {
		t.Errorf("Send must not flush, got %d flushes", tr.flushCount())
	}

	if err := sess.Flush(); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if tr.flushCount() != 1 {
		t.Errorf("flushes = %d, want 1", tr.flushCount())
	}
}

func TestSession_WriteErrors(t *testing.T) {
	boom := errors.New("broken pipe")

	tr := newFakeTransport()
	tr.writeErr = boom
	sess := New(tr)
	err := sess.Send("x")
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "write" || !errors.Is(err, boom) {
		t.Errorf("Send() error = %v, want write TransportError wrapping %v", err, boom)
	}

	tr = newFakeTransport()
	tr.flushErr = boom
	sess = New(tr)
	err = sess.Flush()
	if !errors.As(err, &te) || te.Op != "flush" || !errors.Is(err, boom) {
		t.Errorf("Flush() error = %v, want flush TransportError wrapping %v", err, boom)
	}
}

func TestSession_SendControl(t *testing.T) {
	tests := []struct {
		c    rune
		want byte
	}{
		{'a', 1},
		{'c', 3},
		{'z', 26},
		{'[', 27},
		{'_', 31},
	}

	for _, tt := range tests {
		t.Run(string(tt.c), func(t *testing.T) {
			tr := newFakeTransport()
			sess := New(tr)
			if err := sess.SendControl(tt.c); err != nil {
				t.Fatalf("SendControl(%q) error: %v", tt.c, err)
			}
			if got := tr.writtenBytes(); !bytes.Equal(got, []byte{tt.want}) {
				t.Errorf("written = %v, want [%d]", got, tt.want)
			}
			if tr.flushCount() != 1 {
				t.Errorf("flushes = %d, want 1", tr.flushCount())
			}
		})
	}
}

func TestSession_SendControlUnknownTouchesNothing(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr)

	err := sess.SendControl('1')
	var ucc *UnknownControlCodeError
	if !errors.As(err, &ucc) || ucc.Char != '1' {
		t.Fatalf("SendControl('1') error = %v, want UnknownControlCodeError('1')", err)
	}
	if n := len(tr.writtenBytes()); n != 0 {
		t.Errorf("wrote %d bytes for an unknown control code", n)
	}
	if tr.flushCount() != 0 {
		t.Errorf("flushed for an unknown control code")
	}
}

func TestSession_SendControlFlushError(t *testing.T) {
	tr := newFakeTransport()
	tr.flushErr = errors.New("tty gone")
	sess := New(tr)

	var te *TransportError
	if err := sess.SendControl('c'); !errors.As(err, &te) || te.Op != "flush" {
		t.Fatalf("SendControl() error = %v, want flush TransportError", err)
	}
}

func TestSession_InvalidUTF8BecomesReplacement(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr, WithTimeout(time.Second))

	tr.chunks <- []byte{'a', 0xff, 'b', 0x1b, '[', 'm'}
	before, matched, err := sess.Expect(context.Background(), Literal("b"))
	if err != nil {
		t.Fatalf("Expect() error: %v", err)
	}
	if before != "a\uFFFD" || matched != "b" {
		t.Errorf("Expect() = (%q, %q), want (%q, %q)", before, matched, "a\uFFFD", "b")
	}
	if got := sess.Buffer(); got != "\x1b[m" {
		t.Errorf("control bytes must be kept: Buffer() = %q", got)
	}
}

func TestSession_SplitUTF8AcrossReads(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr, WithTimeout(time.Second))

	e := []byte("é") // 0xc3 0xa9
	tr.chunks <- []byte{'c', 'a', 'f', e[0]}
	tr.chunks <- []byte{e[1], '!'}
	_, matched, err := sess.Expect(context.Background(), Literal("café!"))
	if err != nil {
		t.Fatalf("Expect() error: %v", err)
	}
	if matched != "café!" {
		t.Errorf("matched = %q, want %q", matched, "café!")
	}
}

func TestSession_DanglingSequenceAtEOF(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr, WithTimeout(time.Second))

	tr.chunks <- []byte{'x', 0xe2, 0x82}
	close(tr.chunks)
	_, matched, err := sess.Expect(context.Background(), EOF())
	if err != nil {
		t.Fatalf("Expect(EOF) error: %v", err)
	}
	if matched != "x\uFFFD\uFFFD" {
		t.Errorf("matched = %q, want %q", matched, "x\uFFFD\uFFFD")
	}
}

func TestSession_ChunkSize(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr, WithTimeout(time.Second), WithChunkSize(16))

	tr.feed("ok")
	if _, _, err := sess.Expect(context.Background(), Literal("ok")); err != nil {
		t.Fatalf("Expect() error: %v", err)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.readSizes) == 0 || tr.readSizes[0] != 16 {
		t.Errorf("read sizes = %v, want first read of 16 bytes", tr.readSizes)
	}
}

func TestSession_DefaultChunkSize(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr, WithTimeout(time.Second), WithChunkSize(0))

	tr.feed("ok")
	if _, _, err := sess.Expect(context.Background(), Literal("ok")); err != nil {
		t.Fatalf("Expect() error: %v", err)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.readSizes[0] != defaultChunkSize {
		t.Errorf("first read size = %d, want %d", tr.readSizes[0], defaultChunkSize)
	}
}

func TestSession_ExpectStringAndRegexp(t *testing.T) {
	tr := newFakeTransport()
	sess := New(tr, WithTimeout(time.Second))
	ctx := context.Background()

	tr.feed("version 1.2.3 ready\n")
	if _, m, err := sess.ExpectRegexp(ctx, `\d+\.\d+\.\d+`); err != nil || m != "1.2.3" {
		t.Fatalf("ExpectRegexp() = %q, %v", m, err)
	}
	if b, m, err := sess.ExpectString(ctx, "ready"); err != nil || b != " " || m != "ready" {
		t.Fatalf("ExpectString() = %q, %q, %v", b, m, err)
	}
	if _, _, err := sess.ExpectRegexp(ctx, `(`); err == nil {
		t.Fatal("ExpectRegexp() with invalid pattern should fail")
	}
}

func TestSession_Observer(t *testing.T) {
	obs := &recordingObserver{}
	tr := newFakeTransport()
	sess := New(tr, WithTimeout(50*time.Millisecond), WithObserver(obs))
	ctx := context.Background()

	if err := sess.SendLine("hi"); err != nil {
		t.Fatal(err)
	}
	tr.feed("hi\n")
	if _, _, err := sess.Expect(ctx, Literal("hi")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := sess.Expect(ctx, Literal("nope")); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.written != 3 {
		t.Errorf("written = %d, want 3", obs.written)
	}
	if obs.read != 3 {
		t.Errorf("read = %d, want 3", obs.read)
	}
	want := []expectRecord{
		{`"hi"`, OutcomeMatched},
		{`"nope"`, OutcomeTimeout},
	}
	if fmt.Sprint(obs.expects) != fmt.Sprint(want) {
		t.Errorf("expects = %v, want %v", obs.expects, want)
	}
}

type ctxKey struct{}

// ctxObserver records the context value seen by each write report.
type ctxObserver struct {
	nopObserver
	mu   sync.Mutex
	seen []any
}

func (o *ctxObserver) BytesWritten(ctx context.Context, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, ctx.Value(ctxKey{}))
}

func TestSession_WriteReportsCallerContext(t *testing.T) {
	obs := &ctxObserver{}
	tr := newFakeTransport()
	sess := New(tr, WithObserver(obs))
	ctx := context.WithValue(context.Background(), ctxKey{}, "step-3")

	if err := sess.SendContext(ctx, "ls\n"); err != nil {
		t.Fatal(err)
	}
	if err := sess.SendControlContext(ctx, 'c'); err != nil {
		t.Fatal(err)
	}
	if err := sess.Send("plain"); err != nil {
		t.Fatal(err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	want := []any{"step-3", "step-3", nil}
	if fmt.Sprint(obs.seen) != fmt.Sprint(want) {
		t.Errorf("observer contexts = %v, want %v", obs.seen, want)
	}
	if got := string(tr.writtenBytes()); got != "ls\n\x03plain" {
		t.Errorf("written = %q", got)
	}
}

func TestNopFlusher(t *testing.T) {
	var rw struct {
		io.Reader
		io.Writer
	}
	var out bytes.Buffer
	rw.Reader = strings.NewReader("abc")
	rw.Writer = &out

	tr := NopFlusher(rw)
	if err := tr.Flush(); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	sess := New(tr, WithTimeout(time.Second))
	if err := sess.Send("x"); err != nil {
		t.Fatal(err)
	}
	if out.String() != "x" {
		t.Errorf("written = %q, want %q", out.String(), "x")
	}
	if _, m, err := sess.Expect(context.Background(), Literal("bc")); err != nil || m != "bc" {
		t.Errorf("Expect() = %q, %v", m, err)
	}
}
