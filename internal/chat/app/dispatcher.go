package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	errprocess "realtime_chat_service/pkg/err"
	"realtime_chat_service/pkg/logger"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type handlerFunc func(ctx context.Context, s *Session, event domain.EventName, data json.RawMessage) error

// Dispatcher validates and routes client events of active sessions
type Dispatcher struct {
	hub      *Hub
	messages repository.MessageRepository
	rooms    repository.RoomRepository
	validate *validator.Validate
	pageSize int64
	now      func() time.Time

	handlers map[domain.EventName]handlerFunc
}

// NewDispatcher create Dispatcher, pageSize is the get_messages default in chunks
func NewDispatcher(hub *Hub, messages repository.MessageRepository, rooms repository.RoomRepository, pageSize int64) *Dispatcher {
	if pageSize <= 0 {
		pageSize = 1
	}
	d := &Dispatcher{
		hub:      hub,
		messages: messages,
		rooms:    rooms,
		validate: NewValidator(),
		pageSize: pageSize,
		now:      time.Now,
	}
	d.handlers = map[domain.EventName]handlerFunc{
		domain.EventIsTyping:         d.typing,
		domain.EventSendMessage:      d.sendMessage,
		domain.EventUnsendMessage:    d.unsendMessage,
		domain.EventEditMessage:      d.editMessage,
		domain.EventSeeMessage:       d.seeMessage,
		domain.EventReplyToMessage:   d.replyMessage,
		domain.EventReactToMessage:   d.react,
		domain.EventUnreactToMessage: d.react,
		domain.EventGetMessages:      d.getMessages,
		domain.EventAddFavourite:     d.favourite,
		domain.EventRemoveFavourite:  d.favourite,
	}
	return d
}

// NewValidator validator reporting fields by their json names
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Dispatch handle one inbound frame. Failures go back to the caller as an error event;
// the connection stays usable.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, raw []byte) {
	var frame domain.Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		d.fail(s, "", errprocess.Invalid("frame must be {\"event\": name, \"data\": payload}"))
		return
	}
	if s.State() != StateActive {
		d.fail(s, frame.Event, errprocess.Invalid("connection is not active"))
		return
	}

	handle, ok := d.handlers[frame.Event]
	if !ok {
		d.fail(s, frame.Event, errprocess.Invalid(fmt.Sprintf("unknown event %q", frame.Event)))
		return
	}

	logger.Log.Debug("dispatch",
		zap.String("socketID", s.SocketID),
		zap.String("userID", s.UserID()),
		zap.String("event", string(frame.Event)),
	)
	// 斷線不取消進行中的寫入
	if err := handle(context.WithoutCancel(ctx), s, frame.Event, frame.Data); err != nil {
		d.fail(s, frame.Event, err)
	}
}

// bind decode data into p, validate it and check the session may act on its room
func (d *Dispatcher) bind(s *Session, event domain.EventName, data json.RawMessage, p domain.ClientEvent) error {
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, p); err != nil {
		return errprocess.Invalid(fmt.Sprintf("malformed %s payload", event))
	}

	if err := d.validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return errprocess.Invalid(err.Error())
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return errprocess.Validation(string(event), fields...)
	}

	if !s.Joined(p.Room()) {
		return errprocess.ErrRoomNotJoined
	}
	if sender := p.Sender(); sender != "" && sender != s.UserID() {
		return errprocess.Validation(string(event), "senderId")
	}
	return nil
}

func (d *Dispatcher) fail(s *Session, event domain.EventName, err error) {
	kind := errprocess.KindOf(err)
	fields := []zap.Field{
		zap.String("socketID", s.SocketID),
		zap.String("userID", s.UserID()),
		zap.String("event", string(event)),
		zap.String("kind", string(kind)),
		zap.Error(err),
	}
	if kind == errprocess.KindStore {
		logger.Log.Error("event failed", fields...)
	} else {
		logger.Log.Info("event rejected", fields...)
	}

	if sendErr := d.hub.SendTo(s.SocketID, domain.EventError, domain.ErrorPayload{
		Event: event,
		Error: errprocess.Public(err),
		Kind:  string(kind),
	}); sendErr != nil {
		logger.Log.Errorf("send error event", sendErr, zap.String("socketID", s.SocketID))
	}
}

func (d *Dispatcher) typing(ctx context.Context, s *Session, event domain.EventName, data json.RawMessage) error {
	var p domain.TypingPayload
	if err := d.bind(s, event, data, &p); err != nil {
		return err
	}
	return d.hub.Broadcast(ctx, p.RoomID, s.SocketID, domain.EventTyping, p)
}

func (d *Dispatcher) sendMessage(ctx context.Context, s *Session, event domain.EventName, data json.RawMessage) error {
	var p domain.SendMessagePayload
	if err := d.bind(s, event, data, &p); err != nil {
		return err
	}
	if err := d.messages.Append(ctx, p.RoomID, p.Message()); err != nil {
		return err
	}
	return d.hub.Broadcast(ctx, p.RoomID, s.SocketID, domain.EventMessageReceived, p)
}

func (d *Dispatcher) unsendMessage(ctx context.Context, s *Session, event domain.EventName, data json.RawMessage) error {
	var p domain.UnsendMessagePayload
	if err := d.bind(s, event, data, &p); err != nil {
		return err
	}
	if err := d.messages.Remove(ctx, p.RoomID, p.ID); err != nil {
		return err
	}
	return d.hub.Broadcast(ctx, p.RoomID, s.SocketID, domain.EventMessageUnsent, p)
}

func (d *Dispatcher) editMessage(ctx context.Context, s *Session, event domain.EventName, data json.RawMessage) error {
	var p domain.EditMessagePayload
	if err := d.bind(s, event, data, &p); err != nil {
		return err
	}
	if err := d.messages.Edit(ctx, p.RoomID, p.ID, p.OriginalContent, p.UpdatedContent); err != nil {
		return err
	}
	return d.hub.Broadcast(ctx, p.RoomID, s.SocketID, domain.EventMessageEdited, p)
}

func (d *Dispatcher) seeMessage(ctx context.Context, s *Session, event domain.EventName, data json.RawMessage) error {
	var p domain.SeeMessagePayload
	if err := d.bind(s, event, data, &p); err != nil {
		return err
	}
	if err := d.messages.MarkSeen(ctx, p.RoomID, p.ID, p.SenderID, p.SeenAt); err != nil {
		return err
	}
	return d.hub.Broadcast(ctx, p.RoomID, s.SocketID, domain.EventMessageSeen, p)
}

func (d *Dispatcher) replyMessage(ctx context.Context, s *Session, event domain.EventName, data json.RawMessage) error {
	var p domain.ReplyMessagePayload
	if err := d.bind(s, event, data, &p); err != nil {
		return err
	}
	if err := d.messages.Reply(ctx, p.RoomID, p.Message()); err != nil {
		return err
	}
	return d.hub.Broadcast(ctx, p.RoomID, s.SocketID, domain.EventMessageReplied, p)
}

// react handles react_to_message and unreact_to_message
func (d *Dispatcher) react(ctx context.Context, s *Session, event domain.EventName, data json.RawMessage) error {
	var p domain.ReactionPayload
	if err := d.bind(s, event, data, &p); err != nil {
		return err
	}
	reaction := p.ToReaction(d.now())

	if event == domain.EventUnreactToMessage {
		if err := d.messages.Unreact(ctx, p.RoomID, p.ID, reaction); err != nil {
			return err
		}
		return d.hub.Broadcast(ctx, p.RoomID, s.SocketID, domain.EventMessageUnreacted, p)
	}

	if err := d.messages.React(ctx, p.RoomID, p.ID, reaction); err != nil {
		return err
	}
	return d.hub.Broadcast(ctx, p.RoomID, s.SocketID, domain.EventMessageReacted, p)
}

// getMessages answers only the asking socket
func (d *Dispatcher) getMessages(ctx context.Context, s *Session, event domain.EventName, data json.RawMessage) error {
	var p domain.GetMessagesPayload
	if err := d.bind(s, event, data, &p); err != nil {
		return err
	}
	if p.SocketID != s.SocketID {
		return errprocess.Validation(string(event), "socketId")
	}
	pageSize := p.PageSize
	if pageSize == 0 {
		pageSize = d.pageSize
	}

	page, err := d.messages.List(ctx, p.RoomID, *p.SkipCount, pageSize)
	if err != nil {
		return err
	}
	return d.hub.SendTo(s.SocketID, domain.EventMessagesGot, domain.MessagesGotPayload{
		RoomID:    p.RoomID,
		SkipCount: *p.SkipCount,
		Chunks:    page.Chunks,
		HasMore:   page.HasMore,
	})
}

// favourite handles add_to_favourites and remove_from_favourites, answered to the caller
func (d *Dispatcher) favourite(ctx context.Context, s *Session, event domain.EventName, data json.RawMessage) error {
	var p domain.FavouritePayload
	if err := d.bind(s, event, data, &p); err != nil {
		return err
	}
	result := domain.FavouriteResult{RoomID: p.RoomID, UserID: s.UserID(), MessageID: p.ID}

	if event == domain.EventRemoveFavourite {
		if err := d.rooms.RemoveFavourite(ctx, p.RoomID, s.UserID(), p.ID); err != nil {
			return err
		}
		return d.hub.SendTo(s.SocketID, domain.EventMessageUnfavourited, result)
	}

	msg, err := d.messages.Find(ctx, p.RoomID, p.ID)
	if err != nil {
		return err
	}
	if err := d.rooms.AddFavourite(ctx, p.RoomID, s.UserID(), *msg); err != nil {
		return err
	}
	result.Message = msg
	return d.hub.SendTo(s.SocketID, domain.EventMessageFavourited, result)
}
