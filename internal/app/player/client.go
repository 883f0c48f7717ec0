package player

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"globetrotter/internal/pkg/errs"
	"globetrotter/internal/pkg/metrics"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a message sent by the client.
	maxMessageSize = 4096

	// commandTimeout bounds the backend calls behind one command.
	commandTimeout = 15 * time.Second

	sendBuffer = 64
)

// Client is one WebSocket connection watching a player.
type Client struct {
	player  *Player
	conn    *websocket.Conn
	send    chan []byte
	metrics *metrics.Recorder

	closeOnce sync.Once
	logger    zerolog.Logger
}

// NewClient constructs a Client for conn. It is not attached until Player.Attach.
func NewClient(p *Player, conn *websocket.Conn, rec *metrics.Recorder) *Client {
	rec.ConnectionOpened()
	return &Client{
		player:  p,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		metrics: rec,
		logger:  p.logger.With().Str("remote_addr", conn.RemoteAddr().String()).Logger(),
	}
}

// enqueue must be called with the player's lock held. A client that cannot
// keep up is disconnected.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full, disconnecting")
		c.closeConn()
	}
}

func (c *Client) closeConn() {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error")
		}
	})
}

// ReadPump reads commands until the connection fails, then detaches the client.
func (c *Client) ReadPump() {
	defer func() {
		c.player.detach(c)
		c.closeConn()
		c.metrics.ConnectionClosed()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			return
		}

		c.player.Touch()
		c.processInboundMessage(messageBytes)
	}
}

func (c *Client) processInboundMessage(messageBytes []byte) {
	var inboundMsg struct {
		Type    MessageType     `json:"type"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}

	if err := json.Unmarshal(messageBytes, &inboundMsg); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid JSON")
		c.SendError(errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	ctx, cancel := context.WithTimeout(c.player.Context(), commandTimeout)
	defer cancel()

	switch inboundMsg.Type {
	case TypeLoadNewGame:
		if err := c.player.Game.LoadNewGame(ctx); err != nil {
			c.SendError(err)
		}

	case TypeSubmitAnswer:
		var payload AnswerPayload
		if err := json.Unmarshal(inboundMsg.Payload, &payload); err != nil {
			c.SendError(errs.NewError(errs.ErrInvalidParams))
			return
		}
		if _, err := c.player.Game.SubmitAnswer(ctx, payload.Guess); err != nil {
			c.SendError(err)
		}

	default:
		c.logger.Warn().Str("msg_type", string(inboundMsg.Type)).Msg("Client sent unsupported message type")
		c.SendError(errs.NewError(errs.ErrInvalidParams))
	}
}

// WritePump writes queued messages and pings until the send queue is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedMessage returns false when the pump should stop.
func (c *Client) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Error().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// SendError sends an ERROR message to this client only.
func (c *Client) SendError(err error) {
	var customErr *errs.CustomError
	if !errors.As(err, &customErr) {
		customErr = errs.NewError(errs.ErrUnknown, err)
	}

	c.player.deliver(c, NewMessage(TypeError, ErrorPayload{
		Code:    customErr.Code,
		Message: customErr.Message,
		Kind:    string(customErr.Kind),
	}))
}
