// Command bot is a websocket client for the reference runtime. It joins under a name, prints
// every message it receives, and sends ACTs read from stdin ("die", "respawn" or a /command).
// With -die_every it dies on a timer instead, which is handy for soak runs.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lifeline.ai/internal/logging"
	"lifeline.ai/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "participant name")
		dieEvery = flag.Duration("die_every", 0, "die on this interval instead of reading stdin (0 = interactive)")
	)
	flag.Parse()

	logger := logging.New("info", "console").Named("bot")
	defer func() { _ = logger.Sync() }()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatal("dial", zap.Error(err))
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Name:            *name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 32},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatal("send HELLO", zap.Error(err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	acts := make(chan protocol.ActMsg, 8)
	if *dieEvery > 0 {
		go dieLoop(*dieEvery, acts)
	} else {
		go stdinLoop(acts)
	}

	recv := make(chan []byte, 32)
	go func() {
		defer close(recv)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Info("connection closed", zap.Error(err))
				return
			}
			recv <- msg
		}
	}()

	for {
		select {
		case <-stop:
			return
		case act := <-acts:
			if err := conn.WriteJSON(act); err != nil {
				logger.Error("send ACT", zap.Error(err))
				return
			}
		case msg, ok := <-recv:
			if !ok {
				return
			}
			show(logger, msg)
		}
	}
}

func show(logger *zap.Logger, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return
		}
		logger.Info("WELCOME",
			zap.String("participant", w.ParticipantID),
			zap.Int("lives", w.Lives),
			zap.String("mode", w.Mode),
			zap.Strings("commands", w.Commands),
		)
	case protocol.TypeEvent:
		var e protocol.EventMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			return
		}
		switch e.Kind {
		case protocol.EventChat, protocol.EventDirect:
			fmt.Printf("[%s] %s\n", e.Kind, e.Text)
		case protocol.EventTeleport:
			logger.Info("teleported", zap.String("world", e.World), zap.Float64s("pos", e.Pos[:]))
		case protocol.EventMode:
			logger.Info("mode", zap.String("mode", e.Mode))
		default:
			logger.Info(e.Kind)
		}
	case protocol.TypeError:
		var e protocol.ErrorMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			return
		}
		logger.Warn("rejected", zap.String("ack_for", e.AckFor), zap.String("code", e.Code), zap.String("message", e.Message))
	}
}

// parseAct turns one input line into an ACT; ok is false for blank lines.
func parseAct(seq int, line string) (protocol.ActMsg, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return protocol.ActMsg{}, false
	}
	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		ID:              fmt.Sprintf("A%d", seq),
	}
	switch strings.ToLower(line) {
	case protocol.ActDie, protocol.ActRespawn:
		act.Action = strings.ToLower(line)
	default:
		act.Action = protocol.ActCommand
		act.Line = line
	}
	return act, true
}

func stdinLoop(out chan<- protocol.ActMsg) {
	sc := bufio.NewScanner(os.Stdin)
	seq := 0
	for sc.Scan() {
		if act, ok := parseAct(seq+1, sc.Text()); ok {
			seq++
			out <- act
		}
	}
}

func dieLoop(every time.Duration, out chan<- protocol.ActMsg) {
	t := time.NewTicker(every)
	defer t.Stop()
	for seq := 1; ; seq++ {
		<-t.C
		act, _ := parseAct(seq, protocol.ActDie)
		out <- act
	}
}
