package run

import (
	"github.com/rs/zerolog"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
)

// Fan-out bounds.
const (
	historyMax       = 1000
	replayMax        = 200
	replayDefault    = 25
	subscriberBuffer = 64
)

// Subscription is one live event-stream attachment. Replay holds the
// catch-up events computed at subscribe time; Events carries everything
// after that. Cancel detaches; the Events channel is closed by the hub.
type Subscription struct {
	ID     int
	Replay []model.Event
	Events <-chan model.Event
	Cancel func()
}

// hub assigns sequence numbers, keeps the bounded replay ring, and fans
// events out to subscribers. Owned by the controller's event loop.
type hub struct {
	seq     int64
	history []model.Event
	subs    map[int]chan model.Event
	nextSub int
	log     zerolog.Logger
}

func newHub(log zerolog.Logger) *hub {
	return &hub{
		subs: make(map[int]chan model.Event),
		log:  log,
	}
}

// clearHistory drops the ring at run boundaries. Seq keeps counting so a
// reconnecting subscriber never sees it move backwards.
func (h *hub) clearHistory() {
	h.history = nil
}

// broadcast stamps the event, appends it to the ring, and pushes it to every
// subscriber. A subscriber that cannot keep up is dropped.
func (h *hub) broadcast(ev model.Event) {
	h.seq++
	ev.Seq = h.seq

	h.history = append(h.history, ev)
	if len(h.history) > historyMax {
		h.history = h.history[len(h.history)-historyMax:]
	}

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Back-pressure: slow subscribers lose their slot, not the run.
			h.log.Warn().Int("subscriberId", id).Msg("subscriber stalled, dropping")
			delete(h.subs, id)
			close(ch)
		}
	}
}

// subscribe attaches a new subscriber and computes its replay: events with
// seq greater than lastSeq (capped at replayMax), or the most recent
// replayDefault when no cursor was supplied.
func (h *hub) subscribe(lastSeq int64) (int, []model.Event, chan model.Event) {
	h.nextSub++
	id := h.nextSub
	ch := make(chan model.Event, subscriberBuffer)
	h.subs[id] = ch
	return id, h.replay(lastSeq), ch
}

func (h *hub) replay(lastSeq int64) []model.Event {
	if lastSeq <= 0 {
		start := len(h.history) - replayDefault
		if start < 0 {
			start = 0
		}
		return append([]model.Event(nil), h.history[start:]...)
	}

	idx := len(h.history)
	for i, ev := range h.history {
		if ev.Seq > lastSeq {
			idx = i
			break
		}
	}
	missed := h.history[idx:]
	if len(missed) > replayMax {
		missed = missed[len(missed)-replayMax:]
	}
	return append([]model.Event(nil), missed...)
}

func (h *hub) unsubscribe(id int) {
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}
