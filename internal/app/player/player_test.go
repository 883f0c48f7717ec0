package player

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globetrotter/internal/app/game"
	"globetrotter/internal/app/gateway"
	"globetrotter/internal/app/gateway/gatewaytest"
	"globetrotter/internal/app/localstore"
	"globetrotter/internal/pkg/errs"
	"globetrotter/internal/pkg/metrics"
)

type fixture struct {
	manager *Manager
	dest    *gatewaytest.Destinations
	auth    *gatewaytest.Auth
	rec     *metrics.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dest := gatewaytest.NewDestinations(
		gateway.Destination{ID: 1, City: "Paris", Country: "France", Clues: []string{"Iron lady"}},
		gateway.Destination{ID: 2, City: "London", Country: "United Kingdom"},
		gateway.Destination{ID: 3, City: "Tokyo", Country: "Japan"},
		gateway.Destination{ID: 4, City: "Cairo", Country: "Egypt"},
		gateway.Destination{ID: 5, City: "Lima", Country: "Peru"},
	)
	f := &fixture{dest: dest, auth: gatewaytest.NewAuth(), rec: metrics.New()}
	f.manager = NewManager(context.Background(), Deps{
		Auth:          f.auth,
		Profiles:      gatewaytest.NewProfiles(),
		Destinations:  dest,
		Store:         localstore.NewMemoryStore(),
		Metrics:       f.rec,
		IdleTimeout:   time.Minute,
		SweepInterval: time.Hour,
	})
	t.Cleanup(f.manager.Shutdown)
	return f
}

func (f *fixture) serve(t *testing.T, deviceID string) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := f.manager.Get(r.Context(), deviceID)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(p, conn, f.rec)
		if !p.Attach(client) {
			conn.Close()
			return
		}
		go client.WritePump()
		client.ReadPump()
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type inbound struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(inbound) bool) inbound {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg inbound
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func gameState(t *testing.T, msg inbound) game.StateView {
	t.Helper()
	var v game.StateView
	require.NoError(t, json.Unmarshal(msg.Payload, &v))
	return v
}

func isGamePhase(t *testing.T, phase game.Phase) func(inbound) bool {
	return func(msg inbound) bool {
		return msg.Type == TypeGameState && gameState(t, msg).Phase == phase
	}
}

func ofType(mt MessageType) func(inbound) bool {
	return func(msg inbound) bool { return msg.Type == mt }
}

func TestGetReusesPlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.manager.Get(ctx, "device-a")
	assert.Same(t, a, f.manager.Get(ctx, "device-a"))
	assert.NotSame(t, a, f.manager.Get(ctx, "device-b"))
	assert.Equal(t, 2, f.manager.Len())
	assert.Equal(t, 1, f.auth.Listeners("device-a"))

	_, ok := f.manager.Lookup("device-c")
	assert.False(t, ok)
}

func TestSweepEvictsIdlePlayers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.manager.Get(ctx, "device-a")
	f.manager.Get(ctx, "device-b")

	assert.Equal(t, 0, f.manager.sweep(time.Now()))

	p.lastSeen.Store(time.Now().Add(-2 * time.Minute).UnixNano())
	assert.Equal(t, 1, f.manager.sweep(time.Now()))

	_, ok := f.manager.Lookup("device-a")
	assert.False(t, ok)
	assert.Equal(t, 0, f.auth.Listeners("device-a"))
	assert.Error(t, p.Context().Err())
}

func TestGetNeverReturnsEvictedPlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		stale := f.manager.Get(ctx, "device-a")
		stale.lastSeen.Store(time.Now().Add(-2 * time.Minute).UnixNano())

		swept := make(chan struct{})
		go func() {
			defer close(swept)
			f.manager.sweep(time.Now())
		}()
		p := f.manager.Get(ctx, "device-a")
		<-swept

		require.NoError(t, p.Context().Err(), "iteration %d", i)
		current, ok := f.manager.Lookup("device-a")
		require.True(t, ok)
		require.Same(t, p, current)
	}
}

func TestFirstClientLoadsRound(t *testing.T) {
	f := newFixture(t)
	conn := f.serve(t, "device-a")

	readUntil(t, conn, ofType(TypeSessionState))
	msg := readUntil(t, conn, isGamePhase(t, game.PhasePresented))

	v := gameState(t, msg)
	require.NotNil(t, v.Round)
	assert.Len(t, v.Round.Options, game.OptionCount)
	assert.Nil(t, v.Round.Destination)
}

func TestAnswerOverWebSocket(t *testing.T) {
	f := newFixture(t)
	conn := f.serve(t, "device-a")
	readUntil(t, conn, isGamePhase(t, game.PhasePresented))

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    TypeSubmitAnswer,
		"payload": AnswerPayload{Guess: "Paris"},
	}))

	msg := readUntil(t, conn, func(m inbound) bool {
		return m.Type == TypeGameState && gameState(t, m).Round != nil && gameState(t, m).Round.AnswerResult != nil
	})
	v := gameState(t, msg)
	assert.True(t, v.Round.AnswerResult.Correct)
	assert.Equal(t, game.Score{Correct: 1, Total: 1}, v.Score)
	require.NotNil(t, v.Round.Destination)
	assert.Equal(t, "Paris", v.Round.Destination.City)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    TypeSubmitAnswer,
		"payload": AnswerPayload{Guess: "Paris"},
	}))
	msg = readUntil(t, conn, ofType(TypeError))

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, errs.ErrAlreadyAnswered, payload.Code)
}

func TestLoadFailureNotifies(t *testing.T) {
	f := newFixture(t)
	f.dest.RandomErr = errors.New("rpc down")
	conn := f.serve(t, "device-a")

	msg := readUntil(t, conn, ofType(TypeNotification))
	assert.Contains(t, string(msg.Payload), "Failed to load game data")

	f.dest.SetRandomErr(nil)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": TypeLoadNewGame}))
	readUntil(t, conn, isGamePhase(t, game.PhasePresented))
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	conn := f.serve(t, "device-a")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "DANCE"}))
	msg := readUntil(t, conn, ofType(TypeError))

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, errs.ErrInvalidParams, payload.Code)
}

func TestCloseDisconnectsClients(t *testing.T) {
	f := newFixture(t)
	conn := f.serve(t, "device-a")
	readUntil(t, conn, ofType(TypeSessionState))

	p, ok := f.manager.Lookup("device-a")
	require.True(t, ok)
	p.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var err error
	for err == nil {
		_, _, err = conn.ReadMessage()
	}
	var netErr net.Error
	assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "connection was not closed: %v", err)

	assert.Equal(t, 0, p.ClientCount())
	assert.False(t, p.Attach(&Client{player: p, send: make(chan []byte, 1)}))
}
