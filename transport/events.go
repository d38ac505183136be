package transport

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// InterfaceEvent is the outbound /network/interfaces/<name> payload (§6):
// empty strings on down, per spec.md.
type InterfaceEvent struct {
	Name    string   `json:"name"`
	IP      string   `json:"ip"`
	Netmask string   `json:"netmask"`
	Gateway string   `json:"gateway"`
	DNS     []string `json:"dns"`
}

// EventBroker fans out InterfaceEvent publications to any number of SSE
// subscribers, adapted from the teacher's sol broadcast-channel subscription
// model in server/sse.go, simplified: there is one named interface per
// modem rather than one channel per server session.
type EventBroker struct {
	mu   sync.Mutex
	subs map[chan InterfaceEvent]struct{}
	last map[string]InterfaceEvent
}

func newEventBroker() *EventBroker {
	return &EventBroker{
		subs: make(map[chan InterfaceEvent]struct{}),
		last: make(map[string]InterfaceEvent),
	}
}

// Publish broadcasts ev to every subscriber and remembers it as the last
// known state for name, so a newly-connecting stream gets an immediate
// catch-up value instead of waiting for the next change.
func (b *EventBroker) Publish(name string, ev InterfaceEvent) {
	b.mu.Lock()
	b.last[name] = ev
	subs := make([]chan InterfaceEvent, 0, len(b.subs))
	for ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			log.Warnf("transport: dropping interface event for %s, subscriber channel full", name)
		}
	}
}

func (b *EventBroker) subscribe() chan InterfaceEvent {
	ch := make(chan InterfaceEvent, 8)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *EventBroker) unsubscribe(ch chan InterfaceEvent) {
	b.mu.Lock()
	delete(b.subs, ch)
	close(ch)
	b.mu.Unlock()
}

func (b *EventBroker) lastFor(name string) (InterfaceEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.last[name]
	return ev, ok
}

// handleInterfaceStream serves a server-sent-events stream of
// /network/interfaces/<name> publications, standing in for whatever
// subscription primitive the real message bus offers.
func (s *Server) handleInterfaceStream(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	if ev, ok := s.events.lastFor(name); ok {
		writeSSE(w, ev)
		flusher.Flush()
	}

	ch := s.events.subscribe()
	defer s.events.unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Name != name {
				continue
			}
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev InterfaceEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Warnf("transport: marshal interface event: %v", err)
		return
	}
	w.Write([]byte("event: interface\ndata: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
}
