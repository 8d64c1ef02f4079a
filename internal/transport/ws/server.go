// Package ws serves participant sessions over websocket. A client opens with HELLO, gets
// WELCOME, then exchanges ACT (client) and EVENT (server) messages until it disconnects.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lifeline.ai/internal/command"
	"lifeline.ai/internal/ledger"
	"lifeline.ai/internal/logging"
	"lifeline.ai/internal/protocol"
	"lifeline.ai/internal/sim/roster"
)

// Lifecycle is the part of the lifecycle machine a session drives.
type Lifecycle interface {
	OnJoin(id uuid.UUID)
	OnDeath(id uuid.UUID) ledger.Death
	Ledger() *ledger.Ledger
}

type Commands interface {
	Dispatch(caller uuid.UUID, line string) error
	Names() []string
}

type Server struct {
	roster   *roster.Roster
	life     Lifecycle
	commands Commands
	params   protocol.WorldParams
	log      *zap.Logger

	upgrader websocket.Upgrader

	sessions atomic.Int64
	dropped  atomic.Uint64
}

type Stats struct {
	Sessions      int64
	DroppedEvents uint64
}

func NewServer(r *roster.Roster, life Lifecycle, cmds Commands, params protocol.WorldParams, logger *zap.Logger) *Server {
	return &Server{
		roster:   r,
		life:     life,
		commands: cmds,
		params:   params,
		log:      logging.OrNop(logger).Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Stats() Stats {
	return Stats{Sessions: s.sessions.Load(), DroppedEvents: s.dropped.Load()}
}

// session is the roster's view of one connection.
type session struct {
	out     chan []byte
	dropped *atomic.Uint64
}

func (ss *session) Deliver(e protocol.EventMsg) {
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	ss.send(b)
}

func (ss *session) send(b []byte) {
	select {
	case ss.out <- b:
	default:
		ss.dropped.Add(1)
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id, ss := s.handshake(conn)
		if ss == nil {
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-ss.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		s.life.OnJoin(id)

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			s.handle(id, ss, msg)
		}

		s.roster.Disconnect(id)
	}
}

func (s *Server) handle(id uuid.UUID, ss *session, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeAct {
		return
	}
	if base.ProtocolVersion != protocol.Version {
		s.reply(ss, protocol.NewError("", protocol.ErrProtoBadRequest, "bad protocol_version"))
		return
	}
	if err := protocol.Validate(protocol.TypeAct, msg); err != nil {
		s.reply(ss, protocol.NewError("", protocol.ErrProtoBadRequest, err.Error()))
		return
	}
	var act protocol.ActMsg
	if err := json.Unmarshal(msg, &act); err != nil {
		return
	}

	switch act.Action {
	case protocol.ActDie:
		if !s.roster.Kill(id) {
			s.reply(ss, protocol.NewError(act.ID, protocol.ErrBadRequest, "already dead"))
			return
		}
		s.life.OnDeath(id)
	case protocol.ActRespawn:
		if !s.roster.IsDead(id) {
			s.reply(ss, protocol.NewError(act.ID, protocol.ErrNotDead, "not dead"))
			return
		}
		s.roster.Respawn(id)
	case protocol.ActCommand:
		if err := s.commands.Dispatch(id, act.Line); err != nil {
			s.reply(ss, protocol.NewError(act.ID, codeFor(err), err.Error()))
		}
	}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, command.ErrUnknownCommand):
		return protocol.ErrUnknownCommand
	case errors.Is(err, command.ErrUnknownTarget):
		return protocol.ErrInvalidTarget
	case errors.Is(err, command.ErrBadNumber), errors.Is(err, command.ErrUsage):
		return protocol.ErrBadRequest
	default:
		return protocol.ErrInternal
	}
}

func (s *Server) reply(ss *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	ss.send(b)
}

func (s *Server) handshake(conn *websocket.Conn) (uuid.UUID, *session) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return uuid.Nil, nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return uuid.Nil, nil
	}
	if base.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return uuid.Nil, nil
	}
	if err := protocol.Validate(protocol.TypeHello, msg); err != nil {
		_ = writeJSON(conn, protocol.NewError("", protocol.ErrProtoBadRequest, err.Error()))
		closeWith(conn, "bad HELLO")
		return uuid.Nil, nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return uuid.Nil, nil
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 32
	}
	if maxQ > 256 {
		maxQ = 256
	}
	ss := &session{out: make(chan []byte, maxQ), dropped: &s.dropped}

	id, err := s.roster.Connect(hello.Name, ss)
	if err != nil {
		code := protocol.ErrInternal
		if errors.Is(err, roster.ErrNameTaken) {
			code = protocol.ErrNameTaken
		}
		_ = writeJSON(conn, protocol.NewError("", code, err.Error()))
		closeWith(conn, "join refused")
		return uuid.Nil, nil
	}

	mode, _ := s.roster.Mode(id)
	l := s.life.Ledger()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       uuid.NewString(),
		ParticipantID:   id.String(),
		Name:            hello.Name,
		World:           s.params,
		Lives:           l.Lives(id),
		Mode:            string(mode),
		Commands:        s.commands.Names(),
	}
	welcome.World.NextResetMs = l.NextReset().UnixMilli()
	if err := writeJSON(conn, welcome); err != nil {
		s.roster.Disconnect(id)
		return uuid.Nil, nil
	}
	s.log.Info("session opened", zap.String("name", hello.Name), zap.String("session", welcome.SessionID))
	return id, ss
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
