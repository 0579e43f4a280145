package mailotp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// blockingSink holds every Emit until released, so tests can fill the
// dispatcher buffer deterministically.
type blockingSink struct {
	release chan struct{}
	seen    []AuditEvent
	mu      sync.Mutex
}

func newBlockingSink() *blockingSink {
	return &blockingSink{release: make(chan struct{})}
}

func (s *blockingSink) Emit(_ context.Context, event AuditEvent) {
	<-s.release
	s.mu.Lock()
	s.seen = append(s.seen, event)
	s.mu.Unlock()
}

func (s *blockingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func TestAuditDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(16)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: auditEventOTPRequested, Metadata: map[string]string{"n": string(rune('0' + i))}})
	}
	d.Close()

	for i := 0; i < 5; i++ {
		select {
		case event := <-sink.Events():
			if event.Metadata["n"] != string(rune('0'+i)) {
				t.Fatalf("event %d out of order: %v", i, event.Metadata)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d never delivered", i)
		}
	}
}

func TestAuditDispatcherDropIfFull(t *testing.T) {
	sink := newBlockingSink()
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 2, DropIfFull: true}, sink)

	// One event is stuck in the sink, two fill the buffer; the rest drop.
	for i := 0; i < 6; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: auditEventOTPRequested})
	}

	deadline := time.After(2 * time.Second)
	for d.Dropped() < 3 {
		select {
		case <-deadline:
			t.Fatalf("dropped = %d, want at least 3", d.Dropped())
		default:
			time.Sleep(time.Millisecond)
		}
	}

	close(sink.release)
	d.Close()

	if got := d.Dropped() + uint64(sink.count()); got != 6 {
		t.Fatalf("dropped + delivered = %d, want 6", got)
	}
}

func TestAuditDispatcherCloseDrains(t *testing.T) {
	sink := newBlockingSink()
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16}, sink)

	for i := 0; i < 8; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: auditEventOTPVerified})
	}
	close(sink.release)
	d.Close()

	if sink.count() != 8 {
		t.Fatalf("delivered %d events, want 8", sink.count())
	}

	// Emits after Close are discarded, not deadlocked.
	d.Emit(context.Background(), AuditEvent{EventType: auditEventOTPVerified})
	if sink.count() != 8 {
		t.Fatalf("post-close emit delivered; count %d", sink.count())
	}
}

func TestAuditDispatcherDisabled(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, NewChannelSink(1))
	if d != nil {
		t.Fatal("disabled config produced a dispatcher")
	}

	// The nil dispatcher is usable.
	d.Emit(context.Background(), AuditEvent{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{
		ID:        "evt-1",
		EventType: auditEventVerifyFailed,
		Identity:  "a@x.com",
		Success:   false,
		Error:     "INVALID_OTP",
		Metadata:  map[string]string{"failed_attempts": "2"},
	})
	sink.Emit(context.Background(), AuditEvent{ID: "evt-2", EventType: auditEventOTPVerified, Success: true})

	scanner := bufio.NewScanner(&buf)
	var lines []AuditEvent
	for scanner.Scan() {
		var event AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		lines = append(lines, event)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0].EventType != auditEventVerifyFailed || lines[0].Metadata["failed_attempts"] != "2" {
		t.Fatalf("first line mismatch: %+v", lines[0])
	}
	if lines[1].EventType != auditEventOTPVerified || !lines[1].Success {
		t.Fatalf("second line mismatch: %+v", lines[1])
	}
}
