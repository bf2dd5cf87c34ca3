package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chathub/internal/pkg/errs"
	"chathub/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// frame overhead allowed on top of the chat message limit.
	frameOverhead = 1024

	// SendQueueSize is the number of outbound frames buffered per client.
	SendQueueSize = 256
)

// Client is one websocket connection. It satisfies Sink: the hub pushes frames
// through Deliver, and WritePump drains them onto the socket.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string

	// a buffered channel used to queue frames waiting to be sent to the client.
	send chan []byte

	// mu guards closed against Deliver racing with Close.
	mu     sync.RWMutex
	closed bool

	logger zerolog.Logger
}

// NewClient wraps an upgraded websocket connection identified by connectionID.
func NewClient(h *Hub, wsConn *websocket.Conn, connectionID string) *Client {
	return &Client{
		hub:    h,
		conn:   wsConn,
		id:     connectionID,
		send:   make(chan []byte, SendQueueSize),
		logger: logx.Logger().With().Str("connection_id", connectionID).Logger(),
	}
}

// ConnectionID returns the id assigned when the transport connected.
func (c *Client) ConnectionID() string { return c.id }

// Deliver queues frame without blocking. It reports false when the queue is
// full or the client is closed.
func (c *Client) Deliver(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops accepting frames. WritePump flushes what is queued, sends a
// close frame and closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Run starts the write loop, then blocks in the read loop until the connection ends.
func (c *Client) Run() {
	go c.WritePump()
	c.ReadPump()
}

// ReadPump reads invocations until the connection fails or closes, then
// disconnects the client from the hub.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(int64(c.hub.MaxMessageBytes() + frameOverhead))

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		c.hub.Touch(context.Background(), c.id)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		c.processInboundMessage(messageBytes)
	}
}

func (c *Client) cleanupOnDisconnect() {
	c.logger.Debug().Msg("Client connection cleanup starting.")

	c.hub.Disconnect(context.Background(), c.id)
	c.Close()

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

func (c *Client) processInboundMessage(messageBytes []byte) {
	var inv Invocation
	if err := json.Unmarshal(messageBytes, &inv); err != nil {
		c.logger.Warn().Err(err).Int("size", len(messageBytes)).Msg("Client sent invalid JSON")
		c.sendError("", errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	ctx := context.Background()

	switch inv.Type {
	case InvokeJoinChat:
		var args JoinChatArgs
		if !c.decodeArgs(inv, &args) {
			return
		}
		if _, err := c.hub.JoinChat(ctx, c.id, args.UserName, args.ChatRoom); err != nil {
			c.reply(inv.ID, err)
			return
		}
		c.sendResult(inv.ID, nil)

	case InvokeSendMessage:
		var args SendMessageArgs
		if !c.decodeArgs(inv, &args) {
			return
		}
		c.reply(inv.ID, c.hub.SendMessage(ctx, c.id, args.Message))

	case InvokeRemoveUser:
		var args TargetArgs
		if !c.decodeArgs(inv, &args) {
			return
		}
		c.reply(inv.ID, c.hub.RemoveUser(ctx, c.id, args.TargetUserName))

	case InvokeMakeAdmin:
		var args TargetArgs
		if !c.decodeArgs(inv, &args) {
			return
		}
		c.reply(inv.ID, c.hub.MakeAdmin(ctx, c.id, args.TargetUserName))

	case InvokeGetAllUsers:
		c.sendResult(inv.ID, UsersListPayload{Users: c.hub.GetAllUsers()})

	case InvokeSearchUsers:
		var args SearchUsersArgs
		if !c.decodeArgs(inv, &args) {
			return
		}
		c.sendResult(inv.ID, UsersListPayload{Users: c.hub.SearchUsers(args.Term)})

	default:
		c.logger.Warn().Str("msg_type", string(inv.Type)).Msg("Client sent unsupported message type")
		c.sendError(inv.ID, errs.NewError(errs.ErrUnsupportedMessageType, inv.Type))
	}
}

func (c *Client) decodeArgs(inv Invocation, dst any) bool {
	if len(inv.Payload) == 0 {
		c.sendError(inv.ID, errs.NewError(errs.ErrInvalidParams))
		return false
	}
	if err := json.Unmarshal(inv.Payload, dst); err != nil {
		c.logger.Warn().Err(err).Str("msg_type", string(inv.Type)).Msg("Client sent invalid payload")
		c.sendError(inv.ID, errs.NewError(errs.ErrInvalidParams))
		return false
	}
	return true
}

// silentCodes are outcomes the caller is not told about beyond what the hub
// already pushed: authorization failures, unknown targets and dropped messages.
var silentCodes = map[int]struct{}{
	errs.ErrNotAuthorized:      {},
	errs.ErrCannotRemoveSelf:   {},
	errs.ErrTargetNotFound:     {},
	errs.ErrNotJoined:          {},
	errs.ErrSessionNotFound:    {},
	errs.ErrSessionStoreFailed: {},
}

// reply answers an invocation: ERROR for protocol failures, otherwise a RESULT ack.
func (c *Client) reply(id string, err *errs.CustomError) {
	if err != nil {
		if _, silent := silentCodes[err.Code]; !silent {
			c.sendError(id, err)
			return
		}
	}
	c.sendResult(id, nil)
}

func (c *Client) sendResult(id string, payload any) {
	if id == "" && payload == nil {
		return
	}
	c.sendFrame(Frame{Type: EventResult, ID: id, Payload: payload})
}

func (c *Client) sendError(id string, err error) {
	payload := ErrorPayload{Code: errs.ErrUnknown, Message: "Something went wrong. Please try again."}

	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		payload.Code = customErr.Code
		payload.Message = customErr.Message
	}

	c.sendFrame(Frame{Type: EventError, ID: id, Payload: payload})
}

func (c *Client) sendFrame(f Frame) {
	data, err := EncodeFrame(f)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build reply frame")
		return
	}
	if !c.Deliver(data) {
		c.logger.Warn().Str("frame_type", string(f.Type)).Msg("Client send queue full or closed, dropping reply")
	}
}

// WritePump drains the send queue onto the socket and keeps the heartbeat going.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
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

// writeQueuedMessage reports whether WritePump should continue.
func (c *Client) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Warn().Err(err).Msg("Error writing message")
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
		c.logger.Warn().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}
