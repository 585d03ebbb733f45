package app

import (
	"context"
	"encoding/json"
	"time"

	"realtime_chat_service/internal/chat/domain"
	errprocess "realtime_chat_service/pkg/err"
	"realtime_chat_service/pkg/logger"
	"realtime_chat_service/pkg/middlewares"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
)

// ChatWebsocketHandler drives one websocket through
// Connecting -> Authenticating -> Joined -> Active -> Closed
type ChatWebsocketHandler struct {
	gatekeeper *Gatekeeper
	presence   *Presence
	dispatcher *Dispatcher
	hub        *Hub

	PingInterval time.Duration
}

// NewChatWebsocketHandler create ChatWebsocketHandler
func NewChatWebsocketHandler(g *Gatekeeper, p *Presence, d *Dispatcher, hub *Hub) *ChatWebsocketHandler {
	return &ChatWebsocketHandler{
		gatekeeper:   g,
		presence:     p,
		dispatcher:   d,
		hub:          hub,
		PingInterval: defaultPingInterval,
	}
}

// HandleConnection 是 WebSocket 連線的進入點
func (h *ChatWebsocketHandler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	sess := NewSession(uuid.NewString())
	log := logger.Log.With(zap.String("socketID", sess.SocketID))
	defer conn.Close()

	accessToken, _ := conn.Locals(middlewares.LocalAccessToken).(string)
	deviceID, _ := conn.Locals(middlewares.LocalDeviceID).(string)

	_ = sess.Advance(StateAuthenticating)
	identity, err := h.gatekeeper.Authenticate(ctx, accessToken, deviceID)
	if err != nil {
		log.Info("connection rejected", zap.String("kind", string(errprocess.KindOf(err))), zap.Error(err))
		h.reject(conn, sess, err)
		return
	}
	if len(identity.Rooms) == 0 {
		h.reject(conn, sess, errprocess.ErrRoomsNotFound)
		return
	}
	sess.Bind(identity)
	_ = sess.Advance(StateJoined)
	log = log.With(zap.String("userID", sess.UserID()), zap.String("deviceID", sess.DeviceID()))
	log.Info("websocket authenticated", zap.Int("rooms", len(identity.Rooms)))

	client := h.hub.Register(sess)
	writerDone := make(chan struct{})
	go h.writeLoop(conn, client, writerDone)

	// client 需要 socketId 才能送 get_messages
	if err := h.hub.SendTo(sess.SocketID, domain.EventConnected, domain.ConnectedPayload{
		SocketID: sess.SocketID,
		UserID:   sess.UserID(),
	}); err != nil {
		log.Errorf("send connected", err)
	}

	defer func() {
		_ = sess.Advance(StateClosed)
		h.presence.LeaveAll(context.WithoutCancel(ctx), sess)
		h.hub.Unregister(sess.SocketID)
		<-writerDone
		log.Info("websocket close")
	}()

	snapshots := h.presence.JoinRooms(ctx, sess, identity.Rooms)
	if err := h.hub.SendTo(sess.SocketID, domain.EventRoomsListResponse, snapshots); err != nil {
		log.Errorf("send rooms snapshot", err)
		return
	}
	_ = sess.Advance(StateActive)

	//server發出ping之後client連線正常會回pong
	conn.SetPongHandler(func(string) error {
		log.Debug("received pong")
		return nil
	})

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			// 檢查是否為 Close 正常結束
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				log.Debug("connection closed by client")
			} else {
				//直接斷線 1006
				log.Errorf("websocket read error", err)
			}
			return
		}

		if mt != websocket.TextMessage {
			h.dispatcher.fail(sess, "", errprocess.Invalid("only text frames are accepted"))
			continue
		}
		// 同一連線的事件依序處理
		h.dispatcher.Dispatch(ctx, sess, message)
	}
}

// writeLoop is the socket's only writer: queued frames plus periodic pings
func (h *ChatWebsocketHandler) writeLoop(conn *websocket.Conn, client *Client, done chan<- struct{}) {
	defer close(done)

	interval := h.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-client.Send():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Log.Errorf("write message error", err, zap.String("socketID", client.Session.SocketID))
				// keep draining so Unregister is never blocked on a dead socket
				continue
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				logger.Log.Debug("ping failed", zap.String("socketID", client.Session.SocketID), zap.Error(err))
			}
		}
	}
}

// reject report a handshake failure as {event: connection} and close the socket
func (h *ChatWebsocketHandler) reject(conn *websocket.Conn, sess *Session, err error) {
	_ = sess.Advance(StateClosed)

	frame, _ := json.Marshal(domain.OutFrame{
		Event: domain.EventError,
		Data: domain.ErrorPayload{
			Event: domain.EventConnection,
			Error: errprocess.Public(err),
			Kind:  string(errprocess.KindOf(err)),
		},
	})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if werr := conn.WriteMessage(websocket.TextMessage, frame); werr != nil {
		logger.Log.Errorf("write connection error", werr)
	}

	code := websocket.ClosePolicyViolation
	if errprocess.KindOf(err) == errprocess.KindStore {
		code = websocket.CloseTryAgainLater
	}
	closeWebSocketConnection(conn, code, errprocess.Public(err))
}

func closeWebSocketConnection(conn *websocket.Conn, code int, reason string) {
	if err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait)); err != nil {
		logger.Log.Debug("send close message failed", zap.Error(err))
	}
}
