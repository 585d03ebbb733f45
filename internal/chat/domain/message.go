package domain

import "time"

// MessageType kind of message content
type MessageType string

const (
	// MessageText plain text
	MessageText MessageType = "text"
	// MessagePhoto photo
	MessagePhoto MessageType = "photo"
	// MessageVideo video
	MessageVideo MessageType = "video"
	// MessagePost shared post
	MessagePost MessageType = "post"
	// MessageClip shared clip
	MessageClip MessageType = "clip"
	// MessageLink link
	MessageLink MessageType = "link"
	// MessageGif gif
	MessageGif MessageType = "gif"
)

// Message one chat message stored inside a chunk
type Message struct {
	ID              string      `bson:"id" json:"id"`
	SenderID        string      `bson:"senderId" json:"senderId"`
	Content         string      `bson:"content" json:"content"`
	Type            MessageType `bson:"type" json:"type"`
	OriginalContent string      `bson:"originalContent,omitempty" json:"originalContent,omitempty"`
	ParentMessageID string      `bson:"parentMessageId,omitempty" json:"parentMessageId,omitempty"`
	SentAt          time.Time   `bson:"sentAt" json:"sentAt"`
	EditedAt        *time.Time  `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
	Reactions       []Reaction  `bson:"reactions,omitempty" json:"reactions"`
}

// Reaction a user's reaction to a message
type Reaction struct {
	UserID    string    `bson:"userId" json:"userId"`
	Content   string    `bson:"content" json:"content"`
	ReactedAt time.Time `bson:"reactedAt" json:"reactedAt"`
}

// SeenEntry read receipt, scoped to a chunk
type SeenEntry struct {
	UserID            string    `bson:"userId" json:"userId"`
	LastSeenMessageID string    `bson:"lastSeenMessageId" json:"lastSeenMessageId"`
	SeenAt            time.Time `bson:"seenAt" json:"seenAt"`
}

// MessageChunk ("stock") one page of a room's history, serial is the document id
type MessageChunk struct {
	Serial    int64       `bson:"_id" json:"serial"`
	Messages  []Message   `bson:"messages" json:"messages"`
	SeenBy    []SeenEntry `bson:"seenBy,omitempty" json:"seenBy"`
	CreatedAt time.Time   `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time   `bson:"updatedAt" json:"updatedAt"`
}

// ChunkPage result of a paged history read, newest chunk first
type ChunkPage struct {
	Chunks  []MessageChunk `json:"chunks"`
	HasMore bool           `json:"hasMore"`
}
