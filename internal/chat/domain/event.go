package domain

import (
	"encoding/json"
	"time"
)

// EventName name of a frame on the websocket
type EventName string

// client -> server
const (
	EventIsTyping         EventName = "is_typing"
	EventSendMessage      EventName = "send_message"
	EventUnsendMessage    EventName = "unsend_message"
	EventEditMessage      EventName = "edit_message"
	EventSeeMessage       EventName = "see_message"
	EventReplyToMessage   EventName = "reply_to_message"
	EventReactToMessage   EventName = "react_to_message"
	EventUnreactToMessage EventName = "unreact_to_message"
	EventGetMessages      EventName = "get_messages"
	EventAddFavourite     EventName = "add_to_favourites"
	EventRemoveFavourite  EventName = "remove_from_favourites"
)

// server -> client
const (
	EventTyping              EventName = "typing"
	EventMessageReceived     EventName = "message_received"
	EventMessageUnsent       EventName = "message_unsent"
	EventMessageEdited       EventName = "message_edited"
	EventMessageSeen         EventName = "message_seen"
	EventMessageReplied      EventName = "message_replied"
	EventMessageReacted      EventName = "message_reacted"
	EventMessageUnreacted    EventName = "message_unreacted"
	EventMessagesGot         EventName = "messages_got"
	EventMessageFavourited   EventName = "message_favourited"
	EventMessageUnfavourited EventName = "message_unfavourited"

	EventConnected         EventName = "connected"
	EventRoomsListResponse EventName = "roomsListResponse"
	EventUserJoined        EventName = "user_joined"
	EventUserLeft          EventName = "user_left"
	EventRoomRemoved       EventName = "room_removed"
	EventError             EventName = "error"

	// EventConnection scope of handshake errors
	EventConnection EventName = "connection"
)

// Frame inbound websocket frame
type Frame struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// OutFrame outbound websocket frame
type OutFrame struct {
	Event EventName   `json:"event"`
	Data  interface{} `json:"data"`
}

// ClientEvent every client payload addresses one room on behalf of a sender
type ClientEvent interface {
	Room() string
	Sender() string
}

// TypingPayload is_typing
type TypingPayload struct {
	RoomID   string `json:"roomId" validate:"required"`
	SenderID string `json:"senderId" validate:"required"`
}

// SendMessagePayload send_message
type SendMessagePayload struct {
	RoomID   string      `json:"roomId" validate:"required"`
	SenderID string      `json:"senderId" validate:"required"`
	Content  string      `json:"content" validate:"required"`
	Type     MessageType `json:"type" validate:"required,oneof=text photo video post clip link gif"`
	ID       string      `json:"id" validate:"required"`
	SentAt   time.Time   `json:"sentAt" validate:"required"`
}

// UnsendMessagePayload unsend_message
type UnsendMessagePayload struct {
	RoomID   string `json:"roomId" validate:"required"`
	SenderID string `json:"senderId" validate:"required"`
	ID       string `json:"id" validate:"required"`
}

// EditMessagePayload edit_message
type EditMessagePayload struct {
	RoomID          string `json:"roomId" validate:"required"`
	SenderID        string `json:"senderId" validate:"required"`
	OriginalContent string `json:"originalContent" validate:"required"`
	UpdatedContent  string `json:"updatedContent" validate:"required"`
	ID              string `json:"id" validate:"required"`
}

// SeeMessagePayload see_message
type SeeMessagePayload struct {
	RoomID   string    `json:"roomId" validate:"required"`
	SenderID string    `json:"senderId" validate:"required"`
	ID       string    `json:"id" validate:"required"`
	SeenAt   time.Time `json:"seenAt" validate:"required"`
}

// ReplyMessagePayload reply_to_message
type ReplyMessagePayload struct {
	RoomID          string    `json:"roomId" validate:"required"`
	SenderID        string    `json:"senderId" validate:"required"`
	ParentMessageID string    `json:"parentMessageId" validate:"required"`
	ReplyContent    string    `json:"replyContent" validate:"required"`
	ReplyMessageID  string    `json:"replyMessageId" validate:"required"`
	SentAt          time.Time `json:"sentAt" validate:"required"`
}

// ReactionPayload react_to_message and unreact_to_message
type ReactionPayload struct {
	RoomID   string `json:"roomId" validate:"required"`
	SenderID string `json:"senderId" validate:"required"`
	ID       string `json:"id" validate:"required"`
	Reaction string `json:"reaction" validate:"required"`
}

// GetMessagesPayload get_messages, skipCount counts chunks
type GetMessagesPayload struct {
	RoomID    string `json:"roomId" validate:"required"`
	SocketID  string `json:"socketId" validate:"required"`
	SkipCount *int64 `json:"skipCount" validate:"required,min=0,max=1000000"`
	PageSize  int64  `json:"pageSize,omitempty" validate:"omitempty,min=1,max=20"`
}

// FavouritePayload add_to_favourites and remove_from_favourites
type FavouritePayload struct {
	RoomID   string `json:"roomId" validate:"required"`
	SenderID string `json:"senderId" validate:"required"`
	ID       string `json:"id" validate:"required"`
}

func (p *TypingPayload) Room() string          { return p.RoomID }
func (p *TypingPayload) Sender() string        { return p.SenderID }
func (p *SendMessagePayload) Room() string     { return p.RoomID }
func (p *SendMessagePayload) Sender() string   { return p.SenderID }
func (p *UnsendMessagePayload) Room() string   { return p.RoomID }
func (p *UnsendMessagePayload) Sender() string { return p.SenderID }
func (p *EditMessagePayload) Room() string     { return p.RoomID }
func (p *EditMessagePayload) Sender() string   { return p.SenderID }
func (p *SeeMessagePayload) Room() string      { return p.RoomID }
func (p *SeeMessagePayload) Sender() string    { return p.SenderID }
func (p *ReplyMessagePayload) Room() string    { return p.RoomID }
func (p *ReplyMessagePayload) Sender() string  { return p.SenderID }
func (p *ReactionPayload) Room() string        { return p.RoomID }
func (p *ReactionPayload) Sender() string      { return p.SenderID }
func (p *GetMessagesPayload) Room() string     { return p.RoomID }
func (p *GetMessagesPayload) Sender() string   { return "" }
func (p *FavouritePayload) Room() string       { return p.RoomID }
func (p *FavouritePayload) Sender() string     { return p.SenderID }

// Message build the stored message
func (p *SendMessagePayload) Message() Message {
	return Message{
		ID:       p.ID,
		SenderID: p.SenderID,
		Content:  p.Content,
		Type:     p.Type,
		SentAt:   p.SentAt,
	}
}

// Message build the stored reply, replies are text
func (p *ReplyMessagePayload) Message() Message {
	return Message{
		ID:              p.ReplyMessageID,
		SenderID:        p.SenderID,
		Content:         p.ReplyContent,
		Type:            MessageText,
		ParentMessageID: p.ParentMessageID,
		SentAt:          p.SentAt,
	}
}

// Reaction build the reaction tuple stamped with at
func (p *ReactionPayload) ToReaction(at time.Time) Reaction {
	return Reaction{UserID: p.SenderID, Content: p.Reaction, ReactedAt: at}
}

// ErrorPayload scoped error delivered to one connection
type ErrorPayload struct {
	Event EventName `json:"event"`
	Error string    `json:"error"`
	Kind  string    `json:"kind,omitempty"`
}

// ConnectedPayload first frame of an authenticated connection, SocketID is what
// get_messages must echo back
type ConnectedPayload struct {
	SocketID string `json:"socketId"`
	UserID   string `json:"userId"`
}

// RoomRemovedPayload the connection no longer belongs to the room
type RoomRemovedPayload struct {
	RoomID string `json:"roomId"`
}

// PresencePayload user_joined and user_left
type PresencePayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// RoomSnapshot one entry of roomsListResponse, Error set when this room could not be loaded
type RoomSnapshot struct {
	RoomID      string        `json:"roomId"`
	RoomDetails *Room         `json:"roomDetails"`
	LatestChunk *MessageChunk `json:"latestChunk"`
	Error       string        `json:"error,omitempty"`
}

// MessagesGotPayload messages_got
type MessagesGotPayload struct {
	RoomID    string         `json:"roomId"`
	SkipCount int64          `json:"skipCount"`
	Chunks    []MessageChunk `json:"chunks"`
	HasMore   bool           `json:"hasMore"`
}

// FavouriteResult message_favourited and message_unfavourited
type FavouriteResult struct {
	RoomID    string   `json:"roomId"`
	UserID    string   `json:"userId"`
	MessageID string   `json:"messageId"`
	Message   *Message `json:"message,omitempty"`
}
