package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Event
}

func (s *blockingSink) Emit(_ context.Context, ev Event) {
	<-s.release
	s.mu.Lock()
	s.got = append(s.got, ev)
	s.mu.Unlock()
}

func (s *blockingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{}, nil)
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink, nil)

	for _, name := range []string{"a", "b", "c"} {
		d.Emit(context.Background(), Event{EventType: name})
	}
	d.Close()

	for _, want := range []string{"a", "b", "c"} {
		select {
		case ev := <-sink.Events():
			if ev.EventType != want {
				t.Fatalf("expected %q, got %q", want, ev.EventType)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestDispatcherDropIfFullCountsAndLogs(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink, zap.New(core))

	// First event is picked up by the loop and blocks in the sink; the
	// second fills the buffer; everything after that is dropped.
	d.Emit(context.Background(), Event{EventType: "1"})
	deadline := time.Now().Add(time.Second)
	for len(d.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d.Emit(context.Background(), Event{EventType: "2"})
	d.Emit(context.Background(), Event{EventType: "3"})
	d.Emit(context.Background(), Event{EventType: "4"})

	if got := d.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped events, got %d", got)
	}
	if logs.FilterMessage("audit buffer full, dropping events").Len() != 1 {
		t.Fatalf("expected one drop warning, got %d", logs.Len())
	}

	close(sink.release)
	d.Close()
	if sink.count() != 2 {
		t.Fatalf("expected 2 delivered events, got %d", sink.count())
	}
}

func TestDispatcherEmitAfterCloseIsIgnored(t *testing.T) {
	sink := NewChannelSink(1)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink, nil)
	d.Close()
	d.Close()
	d.Emit(context.Background(), Event{EventType: "late"})

	select {
	case ev := <-sink.Events():
		t.Fatalf("unexpected event after close: %+v", ev)
	default:
	}
}

func TestLogSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	sink.Emit(context.Background(), Event{EventType: "login_success", Success: true, Email: "a@example.com"})
	sink.Emit(context.Background(), Event{EventType: "login_failure", Error: "bad_credentials"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[1].Level != zap.WarnLevel {
		t.Fatalf("unexpected levels %v %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["error"] != "bad_credentials" {
		t.Fatalf("missing error field: %v", entries[1].ContextMap())
	}
}
