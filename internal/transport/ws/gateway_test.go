package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maplive/engine/internal/broadcast"
	"github.com/maplive/engine/internal/domain"
	"github.com/maplive/engine/internal/event"
	"github.com/maplive/engine/internal/session"
	"github.com/maplive/engine/internal/storage/memory"
	"github.com/maplive/engine/internal/transport/ws"
)

type outMsg struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type harness struct {
	service *session.Service
	url     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := memory.NewStore()
	questions := memory.NewQuestionRepository(map[string]domain.QuestionBank{
		"b1": {
			ID: "b1",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Type:   domain.TypeMultipleChoice,
					Prompt: "Which city is the capital of Vietnam?",
					Options: []domain.Option{
						{ID: "o1", Text: "Hanoi", Correct: true},
						{ID: "o2", Text: "Da Nang"},
					},
					Points: 100,
				},
			},
		},
	})

	bus := event.NewBus()
	t.Cleanup(bus.Stop)

	bcGateway := broadcast.NewGateway(client, "engine")
	broadcast.NewRelay(bcGateway).Register(bus)

	service := session.NewService(session.Config{
		Sessions:     store.Sessions(),
		Participants: store.Participants(),
		Queue:        store.Queue(),
		Responses:    store.Responses(),
		Questions:    questions,
		EventBus:     bus,
	})

	gw := ws.NewGateway(ws.Config{
		Sessions:  service,
		Broadcast: bcGateway,
		Bindings:  broadcast.NewBindingStore(client, "engine", time.Minute),
		Identity: session.IdentityFunc(func(_ context.Context, token string) (string, error) {
			return strings.TrimSuffix(token, "-token"), nil
		}),
	})

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", gw.Handle)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &harness{
		service: service,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil drains messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) outMsg {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg outMsg
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %q", wantType)
		if msg.Type == wantType {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, op string, payload any) {
	t.Helper()

	msg := map[string]any{"op": op}
	if payload != nil {
		msg["payload"] = payload
	}
	require.NoError(t, conn.WriteJSON(msg))
}

func TestGateway_SessionRound(t *testing.T) {
	h := newHarness(t)

	ss, err := h.service.CreateSession(context.Background(), session.CreateSessionRequest{
		HostID:         "host-1",
		MapID:          "map-1",
		Name:           "Geography night",
		QuestionBankID: "b1",
	})
	require.NoError(t, err)

	host := dial(t, h.url+"?code="+ss.JoinCode+"&token=host-1-token")
	readUntil(t, host, "attached")

	participant := dial(t, h.url+"?code="+ss.JoinCode+"&name=An")
	joined := readUntil(t, participant, "joined")

	var p domain.Participant
	require.NoError(t, json.Unmarshal(joined.Payload, &p))
	assert.Equal(t, "An", p.DisplayName)

	send(t, host, "start_session", nil)
	statusMsg := readUntil(t, participant, domain.EventNameSessionStatusChanged)

	var status domain.EventSessionStatusChanged
	require.NoError(t, json.Unmarshal(statusMsg.Payload, &status))
	assert.Equal(t, domain.SessionInProgress, status.Status)

	send(t, host, "next_question", nil)
	activatedMsg := readUntil(t, participant, domain.EventNameQuestionActivated)

	var activated domain.EventQuestionActivated
	require.NoError(t, json.Unmarshal(activatedMsg.Payload, &activated))
	assert.Equal(t, "q1", activated.QuestionID)

	send(t, participant, "submit_response", map[string]any{
		"sessionQuestionId": activated.SessionQuestionID,
		"answer":            map[string]any{"optionId": "o1"},
		"responseTime":      2.5,
	})
	resultMsg := readUntil(t, participant, "response_result")

	var result session.SubmitResponseResult
	require.NoError(t, json.Unmarshal(resultMsg.Payload, &result))
	assert.True(t, result.IsCorrect)
	assert.Equal(t, 100, result.PointsEarned)

	// The host hears about the submission but never the answer content.
	submittedMsg := readUntil(t, host, domain.EventNameResponseSubmitted)
	assert.NotContains(t, string(submittedMsg.Payload), "o1")

	send(t, participant, "get_leaderboard", nil)
	lbMsg := readUntil(t, participant, "leaderboard")

	var lb domain.Leaderboard
	require.NoError(t, json.Unmarshal(lbMsg.Payload, &lb))
	require.Len(t, lb.Entries, 1)
	assert.Equal(t, 100, lb.Entries[0].TotalScore)
}

func TestGateway_HostOnlyOps(t *testing.T) {
	h := newHarness(t)

	ss, err := h.service.CreateSession(context.Background(), session.CreateSessionRequest{
		HostID: "host-1",
		MapID:  "map-1",
	})
	require.NoError(t, err)

	participant := dial(t, h.url+"?code="+ss.JoinCode+"&name=Binh")
	readUntil(t, participant, "joined")

	send(t, participant, "start_session", nil)
	errMsg := readUntil(t, participant, "error")
	assert.Contains(t, string(errMsg.Payload), "host")
}

func TestGateway_DisconnectLeavesSession(t *testing.T) {
	h := newHarness(t)

	ctx := context.Background()
	ss, err := h.service.CreateSession(ctx, session.CreateSessionRequest{
		HostID: "host-1",
		MapID:  "map-1",
	})
	require.NoError(t, err)

	participant := dial(t, h.url+"?code="+ss.JoinCode+"&name=Chi")
	joined := readUntil(t, participant, "joined")

	var p domain.Participant
	require.NoError(t, json.Unmarshal(joined.Payload, &p))

	require.NoError(t, participant.Close())

	require.Eventually(t, func() bool {
		got, err := h.service.GetSession(ctx, ss.ID)
		return err == nil && got.TotalParticipants == 0
	}, 3*time.Second, 20*time.Millisecond, "abrupt disconnect should run the leave cleanup")
}

func TestGateway_RejectsUnknownCode(t *testing.T) {
	h := newHarness(t)

	_, resp, err := websocket.DefaultDialer.Dial(h.url+"?code=ZZZZZZ&name=An", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
