// Package ws is the client transport: one long-lived websocket per
// participant or host, JSON messages in both directions. Outbound traffic
// comes from the redis session channel, so a connection sees events no matter
// which instance committed them.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/maplive/engine/internal/broadcast"
	"github.com/maplive/engine/internal/domain"
	"github.com/maplive/engine/internal/errors"
	"github.com/maplive/engine/internal/session"
	"github.com/maplive/engine/internal/telemetry"
)

const (
	writeTimeout  = 10 * time.Second
	sendQueueSize = 32
)

type Config struct {
	Sessions  *session.Service
	Broadcast *broadcast.Gateway
	Bindings  *broadcast.BindingStore
	Identity  session.IdentityProvider
}

type Gateway struct {
	sessions *session.Service
	bc       *broadcast.Gateway
	bindings *broadcast.BindingStore
	identity session.IdentityProvider
	upgrader websocket.Upgrader
}

func NewGateway(c Config) *Gateway {
	return &Gateway{
		sessions: c.Sessions,
		bc:       c.Broadcast,
		bindings: c.Bindings,
		identity: c.Identity,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inbound struct {
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type errorPayload struct {
	Code    uint32 `json:"code"`
	Message string `json:"message"`
}

// conn is the per-connection state; everything else lives in shared stores.
type conn struct {
	id            string
	sessionID     string
	userID        string
	participantID string
	host          bool
	send          chan outbound
	writerDone    chan struct{}
}

// deliver queues msg for the writer. False means the writer is gone and the
// connection is shutting down; without the writerDone arm a dead writer would
// leave the sender blocked on a full queue forever.
func (cn *conn) deliver(msg outbound) bool {
	select {
	case cn.send <- msg:
		return true
	case <-cn.writerDone:
		return false
	}
}

// Handle upgrades the request and runs the connection until the client goes
// away. Query params: code (join code, required), name (required unless the
// caller is the host), token (optional bearer), device (optional).
func (g *Gateway) Handle(c *gin.Context) {
	g.serve(c.Writer, c.Request)
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	code := q.Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	userID, err := g.resolveIdentity(ctx, q.Get("token"))
	if err != nil {
		e := errors.Convert(err)
		http.Error(w, e.Message, e.HTTPStatusCode())
		return
	}

	ss, err := g.sessions.GetSessionByCode(ctx, code)
	if err != nil {
		e := errors.Convert(err)
		http.Error(w, e.Message, e.HTTPStatusCode())
		return
	}

	wsConn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.ErrorContext(ctx, "ws: upgrade failed", "error", err)
		return
	}
	defer wsConn.Close()

	telemetry.WSConnections.Inc()
	defer telemetry.WSConnections.Dec()

	cn := &conn{
		id:         uuid.NewString(),
		sessionID:  ss.ID,
		userID:     userID,
		host:       userID != "" && userID == ss.HostID,
		send:       make(chan outbound, sendQueueSize),
		writerDone: make(chan struct{}),
	}

	if cn.host {
		cn.send <- outbound{Type: "attached", Payload: ss}
	} else {
		p, err := g.sessions.JoinSession(ctx, session.JoinSessionRequest{
			Code:        code,
			DisplayName: q.Get("name"),
			DeviceInfo:  q.Get("device"),
			UserID:      userID,
		})
		if err != nil {
			_ = wsConn.WriteJSON(outbound{Type: "error", Payload: toErrorPayload(err)})
			return
		}
		cn.participantID = p.ID
		cn.send <- outbound{Type: "joined", Payload: p}
	}

	if err := g.bindings.Bind(ctx, cn.id, broadcast.Binding{
		SessionID:     cn.sessionID,
		ParticipantID: cn.participantID,
		Host:          cn.host,
	}); err != nil {
		slog.ErrorContext(ctx, "ws: bind failed", "conn", cn.id, "error", err)
	}

	// The session channel outlives the request context on purpose: the
	// subscription ends when the connection does.
	subCtx, cancelSub := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSub()

	sub := g.bc.Subscribe(subCtx, cn.sessionID)
	defer sub.Close()

	forwardDone := make(chan struct{})
	go g.writer(wsConn, cn)
	go func() {
		defer close(forwardDone)
		g.forward(subCtx, sub.Channel(), cn)
	}()

	g.readLoop(ctx, wsConn, cn)

	g.cleanup(ctx, cn)

	// The forwarder must be stopped before cn.send closes; it is the only
	// remaining sender at this point.
	cancelSub()
	_ = sub.Close()
	<-forwardDone
	close(cn.send)
	<-cn.writerDone
}

func (g *Gateway) resolveIdentity(ctx context.Context, token string) (string, error) {
	if token == "" || g.identity == nil {
		return "", nil
	}
	return g.identity.Resolve(ctx, token)
}

// writer serializes all writes to the socket; gorilla allows one writer at a
// time. On exit it closes the socket so a read loop blocked in ReadJSON
// notices the connection is dead.
func (g *Gateway) writer(wsConn *websocket.Conn, cn *conn) {
	defer close(cn.writerDone)
	defer wsConn.Close()
	for msg := range cn.send {
		_ = wsConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := wsConn.WriteJSON(msg); err != nil {
			slog.Error("ws: write failed", "conn", cn.id, "error", err)
			return
		}
	}
}

// forward pushes session-channel envelopes to this connection, honoring the
// exclude-origin flag.
func (g *Gateway) forward(ctx context.Context, msgs <-chan *redis.Message, cn *conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var env broadcast.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				slog.Error("ws: bad envelope", "conn", cn.id, "error", err)
				continue
			}
			if env.ExcludeOrigin && env.Origin == cn.id {
				continue
			}
			select {
			case cn.send <- outbound{Type: env.Event, Payload: env.Data}:
			case <-ctx.Done():
				return
			default:
				// Slow consumer: drop rather than stall the whole fanout.
				slog.Warn("ws: send queue full, dropping event", "conn", cn.id, "event", env.Event)
			}
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, wsConn *websocket.Conn, cn *conn) {
	for {
		var in inbound
		if err := wsConn.ReadJSON(&in); err != nil {
			return
		}
		_ = g.bindings.Touch(ctx, cn.id)

		resp, err := g.dispatch(ctx, cn, in)
		if err != nil {
			if !cn.deliver(outbound{Type: "error", Payload: toErrorPayload(err)}) {
				return
			}
			continue
		}
		if resp != nil && !cn.deliver(*resp) {
			return
		}
	}
}

// cleanup runs the disconnect path: unbind and, for participants, the same
// leave as an explicit leave op. Idempotent against an earlier explicit leave.
func (g *Gateway) cleanup(ctx context.Context, cn *conn) {
	ctx = context.WithoutCancel(ctx)

	b, err := g.bindings.Lookup(ctx, cn.id)
	if err != nil {
		if !errors.IsCode(err, errors.CodeNotFound) {
			slog.ErrorContext(ctx, "ws: binding lookup failed", "conn", cn.id, "error", err)
		}
		return
	}
	if err := g.bindings.Unbind(ctx, cn.id); err != nil {
		slog.ErrorContext(ctx, "ws: unbind failed", "conn", cn.id, "error", err)
	}
	if b.ParticipantID != "" {
		if err := g.sessions.LeaveSession(ctx, b.ParticipantID); err != nil {
			slog.ErrorContext(ctx, "ws: leave on disconnect failed",
				"conn", cn.id,
				"participant", b.ParticipantID,
				"error", err,
			)
		}
	}
}

func toErrorPayload(err error) errorPayload {
	e := errors.Convert(err)
	return errorPayload{Code: uint32(e.Code), Message: e.Message}
}

type extendTimePayload struct {
	SessionQuestionID string `json:"sessionQuestionId"`
	Seconds           int    `json:"seconds"`
}

type submitResponsePayload struct {
	SessionQuestionID string               `json:"sessionQuestionId"`
	Answer            domain.AnswerPayload `json:"answer"`
	ResponseTime      float64              `json:"responseTime"`
	UsedHint          bool                 `json:"usedHint"`
}

type leaderboardPayload struct {
	Limit int `json:"limit"`
}

type resultsPayload struct {
	SessionQuestionID string `json:"sessionQuestionId"`
}

func (g *Gateway) dispatch(ctx context.Context, cn *conn, in inbound) (*outbound, error) {
	switch in.Op {
	case "start_session":
		ss, err := g.sessions.StartSession(ctx, cn.sessionID, cn.userID)
		if err != nil {
			return nil, err
		}
		return &outbound{Type: "session", Payload: ss}, nil

	case "pause_session":
		ss, err := g.sessions.PauseSession(ctx, cn.sessionID, cn.userID)
		if err != nil {
			return nil, err
		}
		return &outbound{Type: "session", Payload: ss}, nil

	case "resume_session":
		ss, err := g.sessions.ResumeSession(ctx, cn.sessionID, cn.userID)
		if err != nil {
			return nil, err
		}
		return &outbound{Type: "session", Payload: ss}, nil

	case "end_session":
		ss, err := g.sessions.EndSession(ctx, cn.sessionID, cn.userID)
		if err != nil {
			return nil, err
		}
		return &outbound{Type: "session", Payload: ss}, nil

	case "next_question":
		sq, err := g.sessions.ActivateNextQuestion(ctx, cn.sessionID, cn.userID)
		if err != nil {
			return nil, err
		}
		return &outbound{Type: "question", Payload: sq}, nil

	case "skip_question":
		sq, err := g.sessions.SkipCurrentQuestion(ctx, cn.sessionID, cn.userID)
		if err != nil {
			return nil, err
		}
		return &outbound{Type: "question", Payload: sq}, nil

	case "extend_time":
		var p extendTimePayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return nil, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("invalid extend_time payload"))
		}
		sq, err := g.sessions.ExtendTime(ctx, session.ExtendTimeRequest{
			SessionQuestionID: p.SessionQuestionID,
			CallerID:          cn.userID,
			AdditionalSeconds: p.Seconds,
		})
		if err != nil {
			return nil, err
		}
		return &outbound{Type: "question", Payload: sq}, nil

	case "submit_response":
		if cn.participantID == "" {
			return nil, errors.New(errors.CodePermissionDenied,
				errors.WithMessagef("hosts do not submit responses"))
		}
		var p submitResponsePayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return nil, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("invalid submit_response payload"))
		}
		res, err := g.sessions.SubmitResponse(ctx, session.SubmitResponseRequest{
			ParticipantID:     cn.participantID,
			SessionQuestionID: p.SessionQuestionID,
			Payload:           p.Answer,
			ResponseTime:      p.ResponseTime,
			UsedHint:          p.UsedHint,
		})
		if err != nil {
			return nil, err
		}
		return &outbound{Type: "response_result", Payload: res}, nil

	case "get_leaderboard":
		var p leaderboardPayload
		if len(in.Payload) > 0 {
			if err := json.Unmarshal(in.Payload, &p); err != nil {
				return nil, errors.New(errors.CodeInvalidArgument,
					errors.WithMessagef("invalid get_leaderboard payload"))
			}
		}
		lb, err := g.sessions.GetLeaderboard(ctx, cn.sessionID, p.Limit)
		if err != nil {
			return nil, err
		}
		return &outbound{Type: "leaderboard", Payload: lb}, nil

	case "get_active_question":
		aq, err := g.sessions.GetActiveQuestion(ctx, cn.sessionID)
		if err != nil {
			return nil, err
		}
		return &outbound{Type: "active_question", Payload: aq}, nil

	case "get_session":
		ss, err := g.sessions.GetSession(ctx, cn.sessionID)
		if err != nil {
			return nil, err
		}
		return &outbound{Type: "session", Payload: ss}, nil

	case "get_results":
		var p resultsPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return nil, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("invalid get_results payload"))
		}
		res, err := g.sessions.GetQuestionResults(ctx, p.SessionQuestionID)
		if err != nil {
			return nil, err
		}
		return &outbound{Type: "question_results", Payload: res}, nil

	case "leave_session":
		if cn.participantID == "" {
			return nil, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("hosts end the session instead of leaving"))
		}
		if err := g.sessions.LeaveSession(ctx, cn.participantID); err != nil {
			return nil, err
		}
		return &outbound{Type: "left"}, nil

	default:
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unsupported op %q", in.Op))
	}
}
