package motion

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/openastro/stargo/stargo"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatusHub fans mount snapshots out to websocket subscribers.  Publish
// is the Poller callback; each connected client gets the latest snapshot
// after every poll, starting with the current one on connect.
type StatusHub struct {
	mu   sync.RWMutex
	cond *sync.Cond
	last stargo.Snapshot
	seq  uint64
}

// NewStatusHub returns a hub ready to accept subscribers.
func NewStatusHub() *StatusHub {
	h := &StatusHub{}
	h.cond = sync.NewCond(h.mu.RLocker())
	return h
}

// Publish stores the snapshot and wakes every subscriber.
func (h *StatusHub) Publish(s stargo.Snapshot) {
	h.mu.Lock()
	h.last = s
	h.seq++
	h.mu.Unlock()
	h.cond.Broadcast()
}

// Last returns the most recently published snapshot.
func (h *StatusHub) Last() stargo.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// ServeWS upgrades the request and streams snapshots until the client
// goes away.
func (h *StatusHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	// drain incoming messages so pings are answered and closure noticed.
	// gone is written under the full lock and re-checked by the wait
	// loop, so a subscriber cannot sleep through the disconnect when no
	// further publish ever arrives.
	var gone bool
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				conn.Close()
				h.mu.Lock()
				gone = true
				h.mu.Unlock()
				h.cond.Broadcast()
				return
			}
		}
	}()

	h.mu.RLock()
	snap, seen := h.last, h.seq
	h.mu.RUnlock()
	if err := conn.WriteJSON(snap); err != nil {
		conn.Close()
		return
	}

	for {
		h.mu.RLock()
		for h.seq == seen && !gone {
			h.cond.Wait()
		}
		if gone {
			h.mu.RUnlock()
			return
		}
		snap, seen = h.last, h.seq
		h.mu.RUnlock()

		if err := conn.WriteJSON(snap); err != nil {
			conn.Close()
			return
		}
	}
}
