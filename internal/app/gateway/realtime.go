package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"globetrotter/internal/pkg/logx"
)

const (
	// DefaultHeartbeatInterval matches the realtime server's expectation of a heartbeat every 25s.
	DefaultHeartbeatInterval = 25 * time.Second

	joinTimeout       = 10 * time.Second
	writeTimeout      = 5 * time.Second
	maxReconnectDelay = 30 * time.Second

	phoenixTopic = "phoenix"
)

// Phoenix channel events.
const (
	eventJoin            = "phx_join"
	eventLeave           = "phx_leave"
	eventReply           = "phx_reply"
	eventError           = "phx_error"
	eventClose           = "phx_close"
	eventHeartbeat       = "heartbeat"
	eventAccessToken     = "access_token"
	eventPostgresChanges = "postgres_changes"
)

// TokenSource returns the current access token for the realtime channel.
type TokenSource func(ctx context.Context) (string, error)

type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type phxReply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type postgresChange struct {
	Data struct {
		Type   string          `json:"type"`
		Table  string          `json:"table"`
		Record json.RawMessage `json:"record"`
	} `json:"data"`
}

// profileRecord is the row as the realtime server encodes it.
// Timestamps arrive without a fixed format, so created_at is not decoded.
type profileRecord struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Score       int    `json:"score"`
	GamesPlayed int    `json:"games_played"`
}

// RealtimeConfig configures RealtimeClient.
type RealtimeConfig struct {
	// URL is the project URL; the socket lives at URL + "/realtime/v1/websocket".
	URL     string
	AnonKey string

	Heartbeat time.Duration
	Dialer    *websocket.Dialer
}

// RealtimeClient opens Phoenix channel subscriptions on the realtime server,
// one websocket per subscription.
type RealtimeClient struct {
	socketURL string
	heartbeat time.Duration
	dialer    *websocket.Dialer
	log       zerolog.Logger
}

// NewRealtimeClient builds a RealtimeClient.
func NewRealtimeClient(cfg RealtimeConfig) (*RealtimeClient, error) {
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/") + "/realtime/v1/websocket")
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("apikey", cfg.AnonKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	return &RealtimeClient{
		socketURL: u.String(),
		heartbeat: heartbeat,
		dialer:    dialer,
		log:       logx.Component("gateway.realtime"),
	}, nil
}

// SubscribeProfile streams UPDATE events of the user_profiles row userID to fn.
// The first join happens before it returns; later disconnects are retried with
// backoff until ctx is cancelled or the subscription is released.
func (c *RealtimeClient) SubscribeProfile(ctx context.Context, tokens TokenSource, userID string, fn func(Profile)) (Subscription, error) {
	runCtx, cancel := context.WithCancel(ctx)

	s := &profileSubscription{
		client: c,
		topic:  "realtime:profile-" + userID,
		userID: userID,
		tokens: tokens,
		fn:     fn,
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    c.log.With().Str("user_id", userID).Logger(),
	}

	conn, err := s.connect(runCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	go s.run(conn)
	return s, nil
}

type profileSubscription struct {
	client *RealtimeClient
	topic  string
	userID string
	tokens TokenSource
	fn     func(Profile)

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
	ref    atomic.Uint64
	token  string
	log    zerolog.Logger
}

// Unsubscribe leaves the channel, closes the socket and waits for the feed goroutine.
func (s *profileSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *profileSubscription) nextRef() string {
	return strconv.FormatUint(s.ref.Add(1), 10)
}

func (s *profileSubscription) joinPayload(token string) map[string]any {
	return map[string]any{
		"config": map[string]any{
			"broadcast": map[string]any{"self": false},
			"presence":  map[string]any{"key": ""},
			"postgres_changes": []map[string]string{{
				"event":  "UPDATE",
				"schema": "public",
				"table":  "user_profiles",
				"filter": "id=eq." + s.userID,
			}},
		},
		"access_token": token,
	}
}

// connect dials the socket, joins the channel and waits for the join reply.
func (s *profileSubscription) connect(ctx context.Context) (*websocket.Conn, error) {
	token, err := s.tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("realtime token: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	conn, _, err := s.client.dialer.DialContext(dialCtx, s.client.socketURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	joinRef := s.nextRef()
	if err := writeMessage(conn, s.topic, eventJoin, s.joinPayload(token), joinRef, joinRef); err != nil {
		conn.Close()
		return nil, err
	}

	deadline, _ := dialCtx.Deadline()
	_ = conn.SetReadDeadline(deadline)
	for {
		var msg phxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("await join reply: %w", err)
		}
		if msg.Event != eventReply || msg.Ref != joinRef {
			continue
		}

		var reply phxReply
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			conn.Close()
			return nil, fmt.Errorf("decode join reply: %w", err)
		}
		if reply.Status != "ok" {
			conn.Close()
			return nil, fmt.Errorf("join %s rejected: %s", s.topic, string(reply.Response))
		}
		break
	}

	s.token = token
	s.log.Debug().Str("topic", s.topic).Msg("Joined realtime channel")
	return conn, nil
}

func (s *profileSubscription) run(conn *websocket.Conn) {
	defer close(s.done)

	for {
		err := s.serve(conn)
		if s.ctx.Err() != nil {
			return
		}
		s.log.Warn().Err(err).Msg("Realtime connection lost, reconnecting")

		conn = nil
		for attempt := 0; conn == nil; attempt++ {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff(attempt)):
			}

			conn, err = s.connect(s.ctx)
			if err != nil {
				s.log.Warn().Err(err).Int("attempt", attempt+1).Msg("Realtime reconnect failed")
			}
		}
	}
}

// serve pumps one connection until it fails or the subscription ends.
// It is the only writer on conn once the join has completed.
func (s *profileSubscription) serve(conn *websocket.Conn) error {
	readErr := make(chan error, 1)
	go func() { readErr <- s.readLoop(conn) }()

	ticker := time.NewTicker(s.client.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			_ = writeMessage(conn, s.topic, eventLeave, struct{}{}, s.nextRef(), "")
			conn.Close()
			<-readErr
			return s.ctx.Err()

		case err := <-readErr:
			conn.Close()
			return err

		case <-ticker.C:
			if err := s.heartbeat(conn); err != nil {
				conn.Close()
				<-readErr
				return err
			}
		}
	}
}

// heartbeat keeps the socket alive and pushes a rotated access token to the channel.
func (s *profileSubscription) heartbeat(conn *websocket.Conn) error {
	if err := writeMessage(conn, phoenixTopic, eventHeartbeat, struct{}{}, s.nextRef(), ""); err != nil {
		return err
	}

	token, err := s.tokens(s.ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Could not read access token for realtime channel")
		return nil
	}
	if token != "" && token != s.token {
		if err := writeMessage(conn, s.topic, eventAccessToken, map[string]string{"access_token": token}, s.nextRef(), ""); err != nil {
			return err
		}
		s.token = token
	}
	return nil
}

func (s *profileSubscription) readLoop(conn *websocket.Conn) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * s.client.heartbeat))

		var msg phxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		if msg.Topic != s.topic {
			continue
		}

		switch msg.Event {
		case eventPostgresChanges:
			s.handleChange(msg.Payload)
		case eventError, eventClose:
			return fmt.Errorf("channel %s closed by server: %s", s.topic, msg.Event)
		}
	}
}

func (s *profileSubscription) handleChange(payload json.RawMessage) {
	var change postgresChange
	if err := json.Unmarshal(payload, &change); err != nil {
		s.log.Warn().Err(err).Msg("Undecodable postgres_changes payload")
		return
	}
	if change.Data.Type != "UPDATE" || change.Data.Table != "user_profiles" {
		return
	}

	var record profileRecord
	if err := json.Unmarshal(change.Data.Record, &record); err != nil {
		s.log.Warn().Err(err).Msg("Undecodable profile record")
		return
	}
	if record.ID != s.userID {
		return
	}

	s.fn(Profile{
		ID:          record.ID,
		Username:    record.Username,
		Score:       record.Score,
		GamesPlayed: record.GamesPlayed,
	})
}

func writeMessage(conn *websocket.Conn, topic, event string, payload any, ref, joinRef string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(phxMessage{Topic: topic, Event: event, Payload: raw, Ref: ref, JoinRef: joinRef}); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

func backoff(attempt int) time.Duration {
	d := time.Second << min(attempt, 5)
	return min(d, maxReconnectDelay)
}

var _ ProfileFeed = (*RealtimeClient)(nil)
