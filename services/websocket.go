package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
)

// WebSocket wire messages. Every job and queue event goes to every client;
// filtering by jobId is the client's responsibility.
const (
	msgConnected   = "CONNECTED"
	msgPing        = "PING"
	msgPong        = "PONG"
	msgJobStatus   = "JOB_STATUS_UPDATE"
	msgQueueStatus = "QUEUE_UPDATE"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = pingInterval + 10*time.Second
	writeWait    = 10 * time.Second
	clientBuffer = 256
)

type wsMessage struct {
	Type  string      `json:"type"`
	JobID string      `json:"jobId,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// WebSocketHub relays event-bus traffic to connected browsers. A client that
// cannot keep up is disconnected; it reconnects and reconciles via REST.
type WebSocketHub struct {
	bus *EventBus
	log zerolog.Logger

	mu      sync.Mutex
	clients map[*wsClient]bool
}

func NewWebSocketHub(bus *EventBus, log zerolog.Logger) *WebSocketHub {
	hub := &WebSocketHub{
		bus:     bus,
		log:     log.With().Str("component", "websocket").Logger(),
		clients: make(map[*wsClient]bool),
	}
	go hub.relay()
	return hub
}

// relay consumes the hub's bus subscription for the life of the process. The
// bus closes a subscriber that falls too far behind; when that happens the
// hub resubscribes and clients catch up from the next event.
func (h *WebSocketHub) relay() {
	for {
		sub := h.bus.Subscribe()
		for event := range sub.Events() {
			var msg wsMessage
			switch {
			case event.Job != nil:
				msg = wsMessage{Type: msgJobStatus, JobID: event.JobID, Data: event.Job}
			case event.Queue != nil:
				msg = wsMessage{Type: msgQueueStatus, Data: event.Queue}
			default:
				continue
			}

			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			h.broadcast(data)
		}
		h.log.Warn().Msg("event bus subscription dropped, resubscribing")
	}
}

func (h *WebSocketHub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Buffer full: the client is too slow to keep its view live.
			delete(h.clients, client)
			client.close()
		}
	}
}

// HandleConnection owns one browser socket: it is called from the Fiber
// websocket handler and blocks until the client goes away.
func (h *WebSocketHub) HandleConnection(conn *websocket.Conn) {
	client := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Info().Int("clients", total).Msg("websocket client connected")

	h.enqueue(client, wsMessage{Type: msgConnected})

	done := make(chan struct{})
	go h.writeLoop(client, done)
	h.readLoop(client)

	h.mu.Lock()
	if h.clients[client] {
		delete(h.clients, client)
		client.close()
	}
	total = len(h.clients)
	h.mu.Unlock()
	<-done
	conn.Close()
	h.log.Info().Int("clients", total).Msg("websocket client disconnected")
}

func (h *WebSocketHub) enqueue(client *wsClient, msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// writeLoop drains the outbound queue and keeps the heartbeat going. Absence
// of pongs trips the read deadline and the reader tears the socket down.
func (h *WebSocketHub) writeLoop(client *wsClient, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-client.send:
			if !ok {
				client.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHub) readLoop(client *wsClient) {
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		client.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == msgPing {
			h.enqueue(client, wsMessage{Type: msgPong})
		}
	}
}
