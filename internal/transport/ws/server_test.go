package ws

import (
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cropguard.ai/internal/protocol"
)

func testHub() *Hub {
	logger := log.New(io.Discard, "", 0)
	return NewHub(logger, func(sessionID string) protocol.WelcomeMsg {
		return protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       sessionID,
			WorldParams:     protocol.WorldParams{WorldID: "test", Width: 7, Height: 7, TickRateHz: 5},
			Terrain:         []string{"RRRRRRR"},
		}
	})
}

func dial(t *testing.T, srv *httptest.Server, hello protocol.HelloMsg) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("hello: %v", err)
	}
	return conn
}

func TestHandshakeAndBroadcast(t *testing.T) {
	hub := testHub()
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	conn := dial(t, srv, protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "renderer",
	})
	defer conn.Close()

	var welcome protocol.WelcomeMsg
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if welcome.Type != protocol.TypeWelcome || welcome.SessionID == "" {
		t.Fatalf("bad welcome: %+v", welcome)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(protocol.StepUpdateMsg{
		Type:            protocol.TypeStepUpdate,
		ProtocolVersion: protocol.Version,
		Tick:            7,
	})

	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	base, err := protocol.DecodeBase(raw)
	if err != nil || base.Type != protocol.TypeStepUpdate {
		t.Fatalf("expected STEP_UPDATE, got %q err=%v", base.Type, err)
	}
	var step protocol.StepUpdateMsg
	if err := json.Unmarshal(raw, &step); err != nil || step.Tick != 7 {
		t.Fatalf("bad step payload: %v %+v", err, step)
	}
}

func TestHandshakeRejectsWrongVersion(t *testing.T) {
	hub := testHub()
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	conn := dial(t, srv, protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: "0.1",
		ClientName:      "old",
	})
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected close on version mismatch")
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("rejected client registered anyway")
	}
}

func TestCommandAckRoundTrip(t *testing.T) {
	hub := testHub()
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	conn := dial(t, srv, protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "renderer",
		AckCommands:     true,
	})
	defer conn.Close()

	var welcome protocol.WelcomeMsg
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("welcome: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !hub.AckRequested() {
		if time.Now().After(deadline) {
			t.Fatalf("ack capability never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	future := hub.AckFuture("cmd-1")
	if err := conn.WriteJSON(protocol.CommandAckMsg{
		Type:            protocol.TypeCommandAck,
		ProtocolVersion: protocol.Version,
		CommandID:       "cmd-1",
		Accepted:        true,
	}); err != nil {
		t.Fatalf("send ack: %v", err)
	}

	select {
	case ack := <-future:
		if !ack.Accepted || ack.CommandID != "cmd-1" {
			t.Fatalf("bad ack: %+v", ack)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ack future never fired")
	}

	// Unsolicited acks are dropped quietly.
	if err := conn.WriteJSON(protocol.CommandAckMsg{
		Type:            protocol.TypeCommandAck,
		ProtocolVersion: protocol.Version,
		CommandID:       "cmd-unknown",
		Accepted:        false,
	}); err != nil {
		t.Fatalf("send stray ack: %v", err)
	}

	hub.Forget("cmd-2")
}
