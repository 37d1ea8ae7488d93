package streamer

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/saikamal-replicantsys/rtsp-demo/pkg/logger"
)

const (
	pingPeriod = 10 * time.Second
	writeWait  = 5 * time.Second
)

type event struct {
	Status string         `json:"status,omitempty"`
	Ice    []iceCandidate `json:"ice,omitempty"`
}

// EventFeed pushes session status changes and trickled ICE candidates
// to connected browsers, so clients never have to poll /stream/status.
type EventFeed struct {
	coord    *Coordinator
	upgrader websocket.Upgrader
	log      *logger.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	// gorilla permits one concurrent writer per connection
	wmu sync.Mutex

	quit chan struct{}
	once sync.Once
}

func NewEventFeed(coord *Coordinator, log *logger.Logger) *EventFeed {
	f := &EventFeed{
		coord: coord,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:   log,
		conns: map[*websocket.Conn]struct{}{},
		quit:  make(chan struct{}),
	}
	coord.OnState = f.onState
	coord.OnIce = f.onIce
	go f.pinger()
	return f
}

func (f *EventFeed) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn().Err(err).Msg("events upgrade failed")
		return
	}
	f.mu.Lock()
	f.conns[conn] = struct{}{}
	f.mu.Unlock()
	f.log.Debug().Msg("events client connected")

	// the feed is push-only, the read loop just detects disconnects
	go func() {
		defer f.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	f.send(conn, event{Status: f.coord.Status()})
}

func (f *EventFeed) onState(status string) {
	f.broadcast(event{Status: status, Ice: f.drainIce()})
}

// onIce pushes candidates trickled during a stable session, so they
// never sit in the mailbox waiting for an unrelated status change.
func (f *EventFeed) onIce() {
	if ice := f.drainIce(); len(ice) > 0 {
		f.broadcast(event{Ice: ice})
	}
}

func (f *EventFeed) drainIce() (out []iceCandidate) {
	for _, cand := range f.coord.DrainOutboundIce() {
		out = append(out, fromInit(cand))
	}
	return
}

func (f *EventFeed) broadcast(e event) {
	f.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(f.conns))
	for c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.Unlock()
	for _, c := range conns {
		f.send(c, e)
	}
}

func (f *EventFeed) send(conn *websocket.Conn, e event) {
	f.wmu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(e)
	f.wmu.Unlock()
	if err != nil {
		f.drop(conn)
	}
}

func (f *EventFeed) drop(conn *websocket.Conn) {
	f.mu.Lock()
	if _, ok := f.conns[conn]; ok {
		delete(f.conns, conn)
		f.mu.Unlock()
		_ = conn.Close()
		f.log.Debug().Msg("events client disconnected")
		return
	}
	f.mu.Unlock()
}

func (f *EventFeed) pinger() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-f.quit:
			return
		case <-ticker.C:
			f.mu.Lock()
			conns := make([]*websocket.Conn, 0, len(f.conns))
			for c := range f.conns {
				conns = append(conns, c)
			}
			f.mu.Unlock()
			for _, c := range conns {
				f.wmu.Lock()
				_ = c.SetWriteDeadline(time.Now().Add(writeWait))
				err := c.WriteMessage(websocket.PingMessage, nil)
				f.wmu.Unlock()
				if err != nil {
					f.drop(c)
				}
			}
		}
	}
}

// Close disconnects every client and stops the ping loop.
func (f *EventFeed) Close() {
	f.once.Do(func() { close(f.quit) })
	f.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(f.conns))
	for c := range f.conns {
		conns = append(conns, c)
	}
	f.conns = map[*websocket.Conn]struct{}{}
	f.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
