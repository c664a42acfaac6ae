// Package hub implements the pub/sub broadcast layer over WebSocket:
// clients subscribe to topics (orderbook.<pair>, trades.<pair>,
// orders.<user>) and receive JSON messages with a slow-subscriber drop
// policy instead of blocking the publisher.
package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 16
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server message types sent in envelope.Type.
const (
	TypeConnected             = "connected"
	TypeOrderbookUpdate       = "orderbook_update"
	TypeTradeUpdate           = "trade_update"
	TypeOrderUpdate           = "order_update"
	TypeSubscriptionSuccess   = "subscription_success"
	TypeUnsubscriptionSuccess = "unsubscription_success"
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// controlMessage is a client's subscribe/unsubscribe request. channel is
// one of "orderbook", "trades", "orders"; symbol is the trading pair or
// user address it scopes to. Internally these compose into one topic
// string, channel+"."+symbol, the same shape Publish already broadcasts
// on.
type controlMessage struct {
	Action  string `json:"action"` // "subscribe" | "unsubscribe"
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
}

func topicFor(channel, symbol string) string {
	return channel + "." + symbol
}

// Hub owns the client registry and fans out topic publishes to subscribers.
// One sync.RWMutex guards the client set, matching the teacher's
// single-lock Hub design; publishing itself never blocks on a slow client
// because each client's send channel is buffered and written to
// non-blockingly.
type Hub struct {
	log *zap.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
}

func New(log *zap.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes registrations and never returns; call it in its own
// goroutine for the process lifetime.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		}
	}
}

// Publish sends data to every client subscribed to topic under the given
// message type. A client whose send buffer is full is unregistered from
// the hub entirely (all topics, send channel closed) rather than blocking
// the publisher — a broadcast is best-effort, not a reliable queue.
func (h *Hub) Publish(topic, msgType string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.log.Error("marshal publish payload", zap.Error(err), zap.String("topic", topic))
		return
	}
	msg, err := json.Marshal(envelope{Type: msgType, Data: raw})
	if err != nil {
		h.log.Error("marshal envelope", zap.Error(err), zap.String("topic", topic))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(topic) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.log.Warn("dropping slow subscriber", zap.String("topic", topic))
			go h.forceUnregister(c)
		}
	}
}

func (h *Hub) forceUnregister(c *Client) {
	select {
	case h.unregister <- c:
	default:
	}
}

// ServeWS upgrades an HTTP request to a WebSocket connection and starts the
// client's read/write pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]struct{}),
	}
	h.register <- c
	c.sendEnvelope(TypeConnected, struct{}{})

	go c.writePump()
	go c.readPump()
}

// Client is one subscriber connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subsMu sync.RWMutex
	subs   map[string]struct{}
}

func (c *Client) isSubscribed(topic string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	_, ok := c.subs[topic]
	return ok
}

func (c *Client) subscribe(topic string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subs[topic] = struct{}{}
}

func (c *Client) unsubscribe(topic string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	delete(c.subs, topic)
}

// sendEnvelope writes a single message directly to this client, bypassing
// topic subscription — used for connection acks that aren't broadcasts.
func (c *Client) sendEnvelope(msgType string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.hub.log.Error("marshal envelope payload", zap.Error(err), zap.String("type", msgType))
		return
	}
	msg, err := json.Marshal(envelope{Type: msgType, Data: raw})
	if err != nil {
		c.hub.log.Error("marshal envelope", zap.Error(err), zap.String("type", msgType))
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req controlMessage
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}
		topic := topicFor(req.Channel, req.Symbol)
		switch req.Action {
		case "subscribe":
			c.subscribe(topic)
			c.sendEnvelope(TypeSubscriptionSuccess, controlMessage{Channel: req.Channel, Symbol: req.Symbol})
		case "unsubscribe":
			c.unsubscribe(topic)
			c.sendEnvelope(TypeUnsubscriptionSuccess, controlMessage{Channel: req.Channel, Symbol: req.Symbol})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			// Coalesce any further queued messages into the same frame.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
