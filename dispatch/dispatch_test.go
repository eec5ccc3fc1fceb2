package dispatch

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/multicall/errors"
	"github.com/wippyai/multicall/signature"
)

type fakeEntry string

func (e fakeEntry) String() string { return string(e) }

type otherEntry int

func (e otherEntry) String() string { return "other" }

// adder returns the int argument at slot 1 plus its context.
type adder struct {
	calls    []string
	failOn   string
	checkErr error
}

func (a *adder) Name() string { return "fake" }

func (a *adder) Accepts(e EntryPoint) bool {
	_, ok := e.(fakeEntry)
	return ok
}

func (a *adder) Check(c Callable) error { return a.checkErr }

func (a *adder) PerformCall(ctx context.Context, entry EntryPoint, frame []byte, sig *signature.Signature, ret []byte) error {
	a.calls = append(a.calls, entry.String())
	if entry.String() == a.failOn {
		return errFailed
	}
	self := ContextFrom(frame[:sig.ArgumentSize(0)])
	off := sig.ArgumentOffset(1)
	arg := binary.NativeEndian.Uint32(frame[off:])
	binary.NativeEndian.PutUint32(ret, arg+uint32(self))
	return nil
}

var errFailed = stderrors.New("callee failed")

type directEntry struct{ value uint32 }

func (d directEntry) String() string { return "direct" }

func (d directEntry) CallFrame(ctx context.Context, frame []byte, sig *signature.Signature, ret []byte) error {
	binary.NativeEndian.PutUint32(ret, d.value)
	return nil
}

func mustSig(t *testing.T) *signature.Signature {
	t.Helper()
	sig, err := signature.Parse("i@?i")
	if err != nil {
		t.Fatal(err)
	}
	return sig
}

func TestDispatcher_Bind(t *testing.T) {
	sig := mustSig(t)
	conv := &adder{}
	d := New(conv)

	b, err := d.Bind(Callable{Entry: fakeEntry("a"), Signature: sig})
	if err != nil {
		t.Fatal(err)
	}
	if b.Convention != conv {
		t.Error("bound to the wrong convention")
	}

	if _, err := d.Bind(Callable{Entry: otherEntry(1), Signature: sig}); !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("unknown entry err = %v, want Unsupported", err)
	}

	if _, err := d.Bind(Callable{Signature: sig}); err == nil {
		t.Error("nil entry bound")
	}
	if _, err := d.Bind(Callable{Entry: fakeEntry("a")}); err == nil {
		t.Error("nil signature bound")
	}

	conv.checkErr = errors.SignatureMismatch("wrong arity")
	if _, err := d.Bind(Callable{Entry: fakeEntry("a"), Signature: sig}); !errors.Is(err, errors.ErrSignatureMismatch) {
		t.Errorf("Check error not surfaced: %v", err)
	}

	b, err = New().Bind(Callable{Entry: directEntry{}, Signature: sig})
	if err != nil || b.Convention != nil {
		t.Errorf("direct entry bind = %v, %v", b.Convention, err)
	}
}

func TestDispatcher_InvokeOrderAndBuffers(t *testing.T) {
	sig := mustSig(t)
	conv := &adder{}
	d := New(conv)

	var calls []Bound
	for i, name := range []string{"a", "b", "c"} {
		b, err := d.Bind(Callable{Entry: fakeEntry(name), Context: uint64(i * 100), Signature: sig})
		if err != nil {
			t.Fatal(err)
		}
		calls = append(calls, b)
	}
	direct, _ := d.Bind(Callable{Entry: directEntry{value: 42}, Signature: sig})
	calls = append(calls, direct)

	frame := make([]byte, sig.FrameLength())
	binary.NativeEndian.PutUint32(frame[sig.ArgumentOffset(1):], 5)
	before := append([]byte(nil), frame...)

	rets := make([][]byte, len(calls))
	for i := range rets {
		rets[i] = make([]byte, sig.ReturnSize())
	}
	if err := d.Invoke(context.Background(), calls, frame, sig, rets); err != nil {
		t.Fatal(err)
	}

	var got []uint32
	for _, r := range rets {
		got = append(got, binary.NativeEndian.Uint32(r))
	}
	if diff := cmp.Diff([]uint32{5, 105, 205, 42}, got); diff != "" {
		t.Errorf("returns (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, conv.calls); diff != "" {
		t.Errorf("call order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before, frame); diff != "" {
		t.Errorf("shared frame modified (-want +got):\n%s", diff)
	}
}

func TestDispatcher_InvokeStopsOnFirstError(t *testing.T) {
	sig := mustSig(t)
	conv := &adder{failOn: "b"}
	d := New(conv)

	var calls []Bound
	for _, name := range []string{"a", "b", "c"} {
		b, _ := d.Bind(Callable{Entry: fakeEntry(name), Signature: sig})
		calls = append(calls, b)
	}
	rets := [][]byte{make([]byte, 4), make([]byte, 4), make([]byte, 4)}

	err := d.Invoke(context.Background(), calls, make([]byte, sig.FrameLength()), sig, rets)
	if err != errFailed {
		t.Fatalf("err = %v, want the callee's error unchanged", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, conv.calls); diff != "" {
		t.Errorf("calls after failure (-want +got):\n%s", diff)
	}
}

func TestDispatcher_InvokeShortReturns(t *testing.T) {
	sig := mustSig(t)
	d := New(&adder{})
	b, _ := d.Bind(Callable{Entry: fakeEntry("a"), Signature: sig})
	err := d.Invoke(context.Background(), []Bound{b}, make([]byte, sig.FrameLength()), sig, nil)
	if err == nil {
		t.Fatal("missing return buffers accepted")
	}
}

func TestContextWidths(t *testing.T) {
	b8 := make([]byte, 8)
	PutContext(b8, 1<<40+7)
	if ContextFrom(b8) != 1<<40+7 {
		t.Errorf("8-byte round trip = %d", ContextFrom(b8))
	}
	b4 := make([]byte, 4)
	PutContext(b4, 1<<40+7)
	if ContextFrom(b4) != 7 {
		t.Errorf("4-byte context = %d, want truncation to 7", ContextFrom(b4))
	}
}

func TestRegistry(t *testing.T) {
	sig := mustSig(t)
	r := NewRegistry()
	r.Register("double", Callable{Entry: fakeEntry("double"), Signature: sig})
	r.Register("square", Callable{Entry: fakeEntry("square"), Signature: sig})

	if diff := cmp.Diff([]string{"double", "square"}, r.Names()); diff != "" {
		t.Errorf("Names (-want +got):\n%s", diff)
	}

	c, err := r.Introspect("square")
	if err != nil {
		t.Fatal(err)
	}
	if c.Entry.String() != "square" {
		t.Errorf("Introspect returned %s", c.Entry)
	}

	if _, err := r.Introspect("cube"); err == nil {
		t.Error("unknown name resolved")
	}
	if _, err := r.Introspect(42); err == nil {
		t.Error("non-string handle resolved")
	}

	r.Unregister("double")
	if _, ok := r.Lookup("double"); ok || r.Len() != 1 {
		t.Error("Unregister did not remove the entry")
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	sig := mustSig(t)
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a' + i%26))
			r.Register(name, Callable{Entry: fakeEntry(name), Signature: sig})
			r.Lookup(name)
		}(i)
	}
	wg.Wait()
	if r.Len() != 26 {
		t.Errorf("Len = %d, want 26", r.Len())
	}
}
