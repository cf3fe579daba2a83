package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/sharpefolio/internal/runner"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Buffered job updates per client; a client this far behind is dropped
	clientBufferSize = 64
)

// MessageType represents the type of a stream message
type MessageType string

const (
	MessageTypeProgress MessageType = "progress" // job pending or running
	MessageTypeFinished MessageType = "finished" // last message before close
	MessageTypePing     MessageType = "ping"
	MessageTypePong     MessageType = "pong"
)

// Message is one frame on an optimization stream. Data holds the job.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type streamClient struct {
	hub        *Hub
	conn       *websocket.Conn
	jobID      uuid.UUID
	send       chan []byte
	lastUpdate time.Time
}

// Hub fans job updates out to the websocket clients watching each job
type Hub struct {
	clients map[uuid.UUID]map[*streamClient]bool
	updates chan *runner.Job
	closed  bool
	mu      sync.Mutex
}

// NewHub creates a hub; call Run to start delivery
func NewHub() *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]map[*streamClient]bool),
		updates: make(chan *runner.Job, 256),
	}
}

// Run delivers job updates until ctx is done, then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case job := <-h.updates:
			h.deliver(job)
		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for _, clients := range h.clients {
				for client := range clients {
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// Publish queues a job update without blocking. It is a runner.JobListener.
func (h *Hub) Publish(job *runner.Job) {
	select {
	case h.updates <- job:
	default:
		log.Warn().Str("job_id", job.ID.String()).Msg("Stream hub is full, dropping job update")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, clients := range h.clients {
		n += len(clients)
	}
	return n
}

func (h *Hub) deliver(job *runner.Job) {
	msg, err := encodeJob(job)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to encode job update")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients[job.ID] {
		// updates queued before the client's snapshot are stale
		if job.UpdatedAt.Before(client.lastUpdate) {
			continue
		}
		client.lastUpdate = job.UpdatedAt

		select {
		case client.send <- msg:
		default:
			log.Warn().Str("job_id", job.ID.String()).Msg("Stream client too slow, disconnecting")
			h.removeLocked(client)
			continue
		}
		if job.IsFinished() {
			h.removeLocked(client)
		}
	}
}

// subscribe sends the current job state to client and, unless the job has
// finished, registers it for updates. The snapshot is taken under the hub
// lock so no update can slip between the two.
func (h *Hub) subscribe(client *streamClient, snapshot func() (*runner.Job, error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	job, err := snapshot()
	if err != nil {
		return err
	}
	msg, err := encodeJob(job)
	if err != nil {
		return err
	}

	client.lastUpdate = job.UpdatedAt
	client.send <- msg

	if job.IsFinished() || h.closed {
		close(client.send)
		return nil
	}

	if h.clients[client.jobID] == nil {
		h.clients[client.jobID] = make(map[*streamClient]bool)
	}
	h.clients[client.jobID][client] = true
	return nil
}

func (h *Hub) unsubscribe(client *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

// removeLocked closes the client's send channel once. Callers hold mu.
func (h *Hub) removeLocked(client *streamClient) {
	clients, ok := h.clients[client.jobID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.jobID)
	}
}

func encodeJob(job *runner.Job) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}

	msgType := MessageTypeProgress
	if job.IsFinished() {
		msgType = MessageTypeFinished
	}
	return json.Marshal(Message{Type: msgType, Timestamp: time.Now(), Data: data})
}

// handleStreamOptimization upgrades to a websocket and pushes the job's state
// after every generation until it finishes
func (s *Server) handleStreamOptimization(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if _, err := s.jobs.Get(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "Optimization job not found",
			"job_id": id.String(),
		})
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response
		log.Warn().Err(err).Str("job_id", id.String()).Msg("WebSocket upgrade failed")
		return
	}

	client := &streamClient{
		hub:   s.hub,
		conn:  conn,
		jobID: id,
		send:  make(chan []byte, clientBufferSize),
	}
	err = s.hub.subscribe(client, func() (*runner.Job, error) { return s.jobs.Get(id) })
	if err != nil {
		// evicted between the lookup and the upgrade
		if !errors.Is(err, runner.ErrJobNotFound) {
			log.Error().Err(err).Str("job_id", id.String()).Msg("Failed to subscribe to job")
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "job not found"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	log.Debug().Str("job_id", id.String()).Msg("Optimization stream opened")

	go client.writePump()
	go client.readPump()
}

// checkOrigin accepts requests without an Origin header and origins allowed by CORS
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)
}

// readPump handles pings from the client and detects disconnects
func (c *streamClient) readPump() {
	defer func() {
		c.hub.unsubscribe(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("job_id", c.jobID.String()).Msg("WebSocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != MessageTypePing {
			continue
		}
		c.pong()
	}
}

// pong replies without blocking. The hub may have closed send already.
func (c *streamClient) pong() {
	msg, err := json.Marshal(Message{Type: MessageTypePong, Timestamp: time.Now(), Data: json.RawMessage(`{}`)})
	if err != nil {
		return
	}

	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if !c.hub.clients[c.jobID][c] {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// writePump writes queued messages, one frame each, and pings the peer.
// A closed send channel ends the stream with a close frame.
func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
