package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cropguard.ai/internal/protocol"
)

// WelcomeFn builds the WELCOME payload for a new session. The hub owns the
// transport; what the observer is told about the world is the caller's
// business.
type WelcomeFn func(sessionID string) protocol.WelcomeMsg

// Hub accepts renderer/observer connections, broadcasts coordination
// traffic to all of them, and routes COMMAND_ACK replies back to whoever is
// waiting on the command id.
type Hub struct {
	log      *log.Logger
	upgrader websocket.Upgrader
	welcome  WelcomeFn

	mu      sync.Mutex
	clients map[*client]bool
	acks    map[string]chan protocol.CommandAckMsg
	ackers  int
}

type client struct {
	out  chan []byte
	acks bool
}

func NewHub(logger *log.Logger, welcome WelcomeFn) *Hub {
	return &Hub{
		log:     logger,
		welcome: welcome,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		clients: map[*client]bool{},
		acks:    map[string]chan protocol.CommandAckMsg{},
	}
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := h.handshake(conn)
		if c == nil {
			return
		}
		defer h.drop(c)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-c.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			if base.Type != protocol.TypeCommandAck {
				continue
			}
			var ack protocol.CommandAckMsg
			if err := json.Unmarshal(msg, &ack); err != nil {
				continue
			}
			if ack.ProtocolVersion != protocol.Version {
				continue
			}
			h.deliver(ack)
		}
	}
}

func (h *Hub) handshake(conn *websocket.Conn) *client {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}

	sessionID := uuid.NewString()
	welcome := h.welcome(sessionID)
	b, err := json.Marshal(welcome)
	if err != nil {
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return nil
	}

	c := &client{out: make(chan []byte, 64), acks: hello.AckCommands}
	h.mu.Lock()
	h.clients[c] = true
	if c.acks {
		h.ackers++
	}
	h.mu.Unlock()
	h.log.Printf("[ws] session %s connected (%s) acks=%v", sessionID, hello.ClientName, hello.AckCommands)
	return c
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		if c.acks {
			h.ackers--
		}
	}
	h.mu.Unlock()
}

// Broadcast marshals once and fans out. A client whose queue is full loses
// the message rather than stalling the tick loop.
func (h *Hub) Broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Printf("[ws] marshal: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.out <- b:
		default:
			h.log.Printf("[ws] slow observer, dropping message")
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// AckRequested reports whether any connected observer asked for command
// acks; without one the tick loop skips the wait entirely.
func (h *Hub) AckRequested() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ackers > 0
}

// AckFuture registers interest in one command's ack. The channel fires at
// most once; call Forget when done waiting.
func (h *Hub) AckFuture(commandID string) <-chan protocol.CommandAckMsg {
	ch := make(chan protocol.CommandAckMsg, 1)
	h.mu.Lock()
	h.acks[commandID] = ch
	h.mu.Unlock()
	return ch
}

func (h *Hub) Forget(commandID string) {
	h.mu.Lock()
	delete(h.acks, commandID)
	h.mu.Unlock()
}

func (h *Hub) deliver(ack protocol.CommandAckMsg) {
	h.mu.Lock()
	ch, ok := h.acks[ack.CommandID]
	if ok {
		delete(h.acks, ack.CommandID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- ack:
	default:
	}
}
