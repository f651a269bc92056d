package secevent

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{BufferSize: 8}, sink)

	ctx := context.Background()
	d.Emit(ctx, Event{Type: TypeTokenReuseDetected, UserID: "u-1"})
	d.Emit(ctx, Event{Type: TypeFamilyInvalidated, FamilyID: "fam-1"})
	d.Close()

	got := map[Type]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sink.Events():
			got[ev.Type] = true
			if ev.Timestamp.IsZero() {
				t.Fatalf("dispatcher must stamp events")
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
	if !got[TypeTokenReuseDetected] || !got[TypeFamilyInvalidated] {
		t.Fatalf("missing events: %v", got)
	}

	// Emitting after close is a silent no-op.
	d.Emit(ctx, Event{Type: TypeLogout})
}

func TestDropIfFull(t *testing.T) {
	block := make(chan struct{})
	sink := blockingSink{block: block}
	d := NewDispatcher(Config{BufferSize: 1, DropIfFull: true}, sink)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		d.Emit(ctx, Event{Type: TypeRateLimited})
	}
	close(block)
	d.Close()

	if d.Dropped() == 0 {
		t.Fatalf("expected drops under a full buffer")
	}
}

type blockingSink struct{ block chan struct{} }

func (s blockingSink) Emit(ctx context.Context, _ Event) {
	select {
	case <-s.block:
	case <-ctx.Done():
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{
		Timestamp: time.Now(),
		Type:      TypeLoginFailure,
		UserID:    "u-1",
		IP:        "10.0.0.1",
	})

	line := strings.TrimSpace(buf.String())
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("sink output is not one JSON object per line: %v", err)
	}
	if ev.Type != TypeLoginFailure || ev.IP != "10.0.0.1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
