package domain

import "time"

// RoomType definition chat room type
type RoomType string

const (
	// RoomTypePrivate 1對1
	RoomTypePrivate RoomType = "private"
	// RoomTypeGroup 群組
	RoomTypeGroup RoomType = "group"
	// RoomTypeBroadcast one to many channel
	RoomTypeBroadcast RoomType = "broadcast"
)

// DefaultTheme theme of a room created without one
const DefaultTheme = "default"

// Valid report whether t is a known room type
func (t RoomType) Valid() bool {
	switch t {
	case RoomTypePrivate, RoomTypeGroup, RoomTypeBroadcast:
		return true
	}
	return false
}

// Room directory record, the authority on who is in a room
type Room struct {
	ID        string        `bson:"_id" json:"id"`
	Name      string        `bson:"name,omitempty" json:"name,omitempty"`
	Type      RoomType      `bson:"type" json:"type"`
	Theme     string        `bson:"theme" json:"theme"`
	Avatar    string        `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Members   []Member      `bson:"members" json:"members"`
	Deleted   bool          `bson:"deleted" json:"-"`
	Version   int64         `bson:"version" json:"-"`
	Outbox    []OutboxEntry `bson:"outbox,omitempty" json:"-"`
	CreatedAt time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time     `bson:"updatedAt" json:"updatedAt"`

	// relay lease, one node drains a room's outbox at a time
	RelayOwner      string    `bson:"relayOwner,omitempty" json:"-"`
	RelayLeaseUntil time.Time `bson:"relayLeaseUntil,omitempty" json:"-"`
}

// Member one participant of a room
type Member struct {
	UserID     string    `bson:"userId" json:"userId"`
	JoinedAt   time.Time `bson:"joinedAt" json:"joinedAt"`
	Favourites []Message `bson:"favourites,omitempty" json:"favourites"`
}

// MemberIDs list the user ids of the room in order
func (r *Room) MemberIDs() []string {
	ids := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// HasMember report whether userID belongs to the room
func (r *Room) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// NewMembers build members joined at now, favourites start empty
func NewMembers(userIDs []string, now time.Time) []Member {
	members := make([]Member, 0, len(userIDs))
	for _, id := range userIDs {
		members = append(members, Member{UserID: id, JoinedAt: now, Favourites: []Message{}})
	}
	return members
}

// OutboxOp kind of identity projection change
type OutboxOp string

const (
	// OutboxRegister room created, register it for every member
	OutboxRegister OutboxOp = "register"
	// OutboxUpdate members or room attributes changed
	OutboxUpdate OutboxOp = "update"
	// OutboxUnregister room deleted, remove it from every member
	OutboxUnregister OutboxOp = "unregister"
)

// OutboxEntry pending change to the identity service's per-user room list.
// It is written in the same document update as the directory change it mirrors.
type OutboxEntry struct {
	ID        string    `bson:"id" json:"id"`
	Op        OutboxOp  `bson:"op" json:"op"`
	Name      string    `bson:"name,omitempty" json:"name,omitempty"`
	Type      RoomType  `bson:"type" json:"type"`
	Theme     string    `bson:"theme" json:"theme"`
	Avatar    string    `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Members   []string  `bson:"members" json:"members"`
	Added     []string  `bson:"added" json:"added"`
	Removed   []string  `bson:"removed" json:"removed"`
	Attempts  int       `bson:"attempts" json:"attempts"`
	LastError string    `bson:"lastError,omitempty" json:"lastError,omitempty"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// NewOutboxEntry snapshot room into an outbox entry; added and removed are the member delta
func NewOutboxEntry(id string, op OutboxOp, room *Room, added, removed []string, now time.Time) OutboxEntry {
	return OutboxEntry{
		ID:        id,
		Op:        op,
		Name:      room.Name,
		Type:      room.Type,
		Theme:     room.Theme,
		Avatar:    room.Avatar,
		Members:   room.MemberIDs(),
		Added:     added,
		Removed:   removed,
		CreatedAt: now,
	}
}

// LifecycleEvent published once a membership change reached the identity store
type LifecycleEvent struct {
	RoomID  string    `json:"roomId"`
	Op      OutboxOp  `json:"op"`
	Type    RoomType  `json:"type"`
	Members []string  `json:"members"`
	Added   []string  `json:"added,omitempty"`
	Removed []string  `json:"removed,omitempty"`
	At      time.Time `json:"at"`
}
