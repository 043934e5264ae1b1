package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"cropguard.ai/internal/protocol"
)

func main() {
	var (
		url  = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name = flag.String("name", "observer", "client name")
		ack  = flag.Bool("ack", false, "acknowledge mirrored agent commands")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		AckCommands:     *ack,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME session=%s world=%s %dx%d tick=%d rate=%dHz",
				w.SessionID, w.WorldParams.WorldID, w.WorldParams.Width, w.WorldParams.Height, w.Tick, w.WorldParams.TickRateHz)

		case protocol.TypeStepUpdate:
			var su protocol.StepUpdateMsg
			if err := json.Unmarshal(msg, &su); err != nil {
				continue
			}
			for _, ev := range su.Events {
				logger.Printf("tick=%d event=%s source=%s detail=%s", su.Tick, ev.Type, ev.Source, ev.Detail)
			}
			if su.Tick%50 == 0 {
				logger.Printf("tick=%d agents=%d pending=%d completed=%d failed=%d treated=%d",
					su.Tick, len(su.Agents), su.Stats.TasksPending, su.Stats.TasksCompleted, su.Stats.TasksFailed, su.Stats.FieldsTreated)
			}

		case protocol.TypeAgentCommand:
			var cmd protocol.AgentCommandMsg
			if err := json.Unmarshal(msg, &cmd); err != nil {
				continue
			}
			logger.Printf("tick=%d command=%s agent=%s action=%s target=(%d,%d) urgent=%v",
				cmd.Tick, cmd.CommandID, cmd.AgentID, cmd.Action, cmd.TargetX, cmd.TargetZ, cmd.Urgent)
			if *ack {
				_ = conn.WriteJSON(protocol.CommandAckMsg{
					Type:            protocol.TypeCommandAck,
					ProtocolVersion: protocol.Version,
					CommandID:       cmd.CommandID,
					Accepted:        true,
				})
			}

		case protocol.TypeMissionComplete:
			var mc protocol.MissionCompleteMsg
			if err := json.Unmarshal(msg, &mc); err != nil {
				continue
			}
			logger.Printf("MISSION_COMPLETE tick=%d created=%d completed=%d failed=%d treated=%d analyzed=%d",
				mc.Tick, mc.Stats.TasksCreated, mc.Stats.TasksCompleted, mc.Stats.TasksFailed, mc.Stats.FieldsTreated, mc.Stats.FieldsAnalyzed)
			return

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Printf("ERROR code=%s msg=%s", e.Code, e.Message)
		}
	}
}
