//go:build integration_test

// Package demo drives a full session round against a running server: a host
// creates a session over REST, three participants join over websockets, one
// question is activated, answered and ranked. Run `engine serve` with
// config/config.yaml (postgres seeded with bank "demo-bank"), then
// `go test -tags integration_test ./test/demo`.
package demo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const addr = "localhost:8080"

type message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
	name string
}

func connect(t *testing.T, name, query string) *client {
	t.Helper()

	url := fmt.Sprintf("ws://%s/ws?%s", addr, query)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "dial %s", url)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn, name: name}
}

func (c *client) send(op string, payload any) {
	c.t.Helper()

	msg := map[string]any{"op": op}
	if payload != nil {
		msg["payload"] = payload
	}
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

func (c *client) waitFor(wantType string) message {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for {
		var msg message
		require.NoError(c.t, c.conn.ReadJSON(&msg), "%s waiting for %q", c.name, wantType)
		c.t.Logf("%s <- %s %s", c.name, msg.Type, msg.Payload)
		if msg.Type == wantType {
			return msg
		}
	}
}

func createSession(t *testing.T) string {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"mapId":          "demo-map",
		"name":           "Demo night",
		"questionBankId": "demo-bank",
		"config":         map[string]any{"pointsForSpeed": true, "showLeaderboard": true},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/sessions", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer demo-host")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var ss struct {
		JoinCode string `json:"joinCode"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ss))
	require.NotEmpty(t, ss.JoinCode)
	return ss.JoinCode
}

func TestSessionRound(t *testing.T) {
	code := createSession(t)

	host := connect(t, "host", "code="+code+"&token=demo-host")
	host.waitFor("attached")

	players := make([]*client, 0, 3)
	for _, name := range []string{"An", "Binh", "Chi"} {
		p := connect(t, name, fmt.Sprintf("code=%s&name=%s", code, name))
		p.waitFor("joined")
		players = append(players, p)
	}

	host.send("start_session", nil)
	host.waitFor("session")

	host.send("next_question", nil)
	activatedMsg := players[0].waitFor("session.question_activated")

	var activated struct {
		SessionQuestionID string `json:"sessionQuestionId"`
	}
	require.NoError(t, json.Unmarshal(activatedMsg.Payload, &activated))

	for i, p := range players {
		p.send("submit_response", map[string]any{
			"sessionQuestionId": activated.SessionQuestionID,
			"answer":            map[string]any{"optionId": "o1"},
			"responseTime":      float64(i+1) * 1.5,
		})
		p.waitFor("response_result")
	}

	host.waitFor("session.leaderboard_updated")

	host.send("end_session", nil)
	host.waitFor("session")
}
