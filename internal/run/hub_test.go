package run

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
)

func fillHub(h *hub, n int) {
	for i := 0; i < n; i++ {
		h.broadcast(model.Event{Type: model.EventPipelineLog, Message: fmt.Sprintf("m%d", i)})
	}
}

func TestBroadcastAssignsSeq(t *testing.T) {
	h := newHub(zerolog.Nop())
	_, _, ch := h.subscribe(0)

	fillHub(h, 3)
	for want := int64(1); want <= 3; want++ {
		ev := <-ch
		if ev.Seq != want {
			t.Errorf("seq = %d, want %d", ev.Seq, want)
		}
	}
}

func TestReplayDefaultWindow(t *testing.T) {
	h := newHub(zerolog.Nop())
	fillHub(h, 100)

	_, replay, _ := h.subscribe(0)
	if len(replay) != replayDefault {
		t.Fatalf("replay = %d events, want %d", len(replay), replayDefault)
	}
	if replay[len(replay)-1].Seq != 100 {
		t.Errorf("replay ends at seq %d, want 100", replay[len(replay)-1].Seq)
	}
}

func TestReplayAfterCursor(t *testing.T) {
	h := newHub(zerolog.Nop())
	fillHub(h, 50)

	_, replay, _ := h.subscribe(42)
	if len(replay) != 8 {
		t.Fatalf("replay = %d events, want 8 after seq 42", len(replay))
	}
	if replay[0].Seq != 43 {
		t.Errorf("replay starts at seq %d, want 43", replay[0].Seq)
	}
}

func TestReplayCapped(t *testing.T) {
	h := newHub(zerolog.Nop())
	fillHub(h, 600)

	_, replay, _ := h.subscribe(1)
	if len(replay) != replayMax {
		t.Fatalf("replay = %d events, want capped at %d", len(replay), replayMax)
	}
	if replay[len(replay)-1].Seq != 600 {
		t.Errorf("capped replay should keep the newest events, ends at %d", replay[len(replay)-1].Seq)
	}
}

func TestHistoryRingBounded(t *testing.T) {
	h := newHub(zerolog.Nop())
	fillHub(h, historyMax+250)
	if len(h.history) != historyMax {
		t.Errorf("history = %d, want trimmed to %d", len(h.history), historyMax)
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	h := newHub(zerolog.Nop())
	id, _, ch := h.subscribe(0)

	fillHub(h, subscriberBuffer+10)
	if _, ok := h.subs[id]; ok {
		t.Fatal("stalled subscriber should have been dropped")
	}

	// The channel is closed; drain to the close.
	n := 0
	for range ch {
		n++
	}
	if n != subscriberBuffer {
		t.Errorf("drained %d events, want the %d buffered before the drop", n, subscriberBuffer)
	}
}

func TestClearHistoryKeepsSeq(t *testing.T) {
	h := newHub(zerolog.Nop())
	fillHub(h, 10)
	h.clearHistory()

	if _, replay, _ := h.subscribe(0); len(replay) != 0 {
		t.Error("replay after clear should be empty")
	}
	h.broadcast(model.Event{Type: model.EventPipelineLog})
	if h.seq != 11 {
		t.Errorf("seq = %d, want monotonic 11 across the boundary", h.seq)
	}
}

func TestUnsubscribe(t *testing.T) {
	h := newHub(zerolog.Nop())
	id, _, ch := h.subscribe(0)
	h.unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("unsubscribed channel should be closed")
	}
	h.unsubscribe(id) // second call is a no-op
}
