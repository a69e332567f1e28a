package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"taskflow/internal/models"
)

const (
	sendBuffer   = 32
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans activity entries out to the websocket subscribers of each task.
type Hub struct {
	mu    sync.RWMutex
	tasks map[string]map[*subscriber]struct{}
	log   *zap.SugaredLogger
}

type subscriber struct {
	conn *websocket.Conn
	send chan models.ActivityEntry
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		tasks: make(map[string]map[*subscriber]struct{}),
		log:   log,
	}
}

// Publish implements services.ActivityPublisher.
func (h *Hub) Publish(_ context.Context, entries []models.ActivityEntry) {
	for _, e := range entries {
		h.Broadcast(e)
	}
}

// Broadcast never blocks: a subscriber whose buffer is full misses the entry.
func (h *Hub) Broadcast(e models.ActivityEntry) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.tasks[e.TaskID] {
		select {
		case s.send <- e:
		default:
			h.log.Warnw("[ws][drop] slow subscriber", "task_id", e.TaskID, "entry_id", e.ID)
		}
	}
}

// Subscribers returns how many connections follow a task.
func (h *Hub) Subscribers(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tasks[taskID])
}

func (h *Hub) register(taskID string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tasks[taskID] == nil {
		h.tasks[taskID] = make(map[*subscriber]struct{})
	}
	h.tasks[taskID][s] = struct{}{}
}

func (h *Hub) unregister(taskID string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.tasks[taskID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.tasks, taskID)
		}
	}
}

// Serve upgrades the request and streams the task's activity until the
// client goes away. It blocks for the lifetime of the connection.
func (h *Hub) Serve(taskID string, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	s := &subscriber{conn: conn, send: make(chan models.ActivityEntry, sendBuffer)}
	h.register(taskID, s)
	defer func() {
		h.unregister(taskID, s)
		_ = conn.Close()
	}()

	done := make(chan struct{})
	go s.readLoop(done)
	return s.writeLoop(done)
}

// readLoop only consumes control frames; the stream is server to client.
func (s *subscriber) readLoop(done chan<- struct{}) {
	defer close(done)
	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *subscriber) writeLoop(done <-chan struct{}) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil
		case e := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteJSON(e); err != nil {
				return err
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}
