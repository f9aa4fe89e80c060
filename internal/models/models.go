package models

import (
	"encoding/json"
	"errors"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidIdentity = errors.New("invalid sender or receiver id")
)

// User represents a user in the system.
type User struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	AvatarURL string   `json:"avatarUrl,omitempty"`
	Presence  Presence `json:"presence"`
}

// Presence represents the online status of a user.
type Presence struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"lastSeen"` // Unix timestamp (seconds)
}

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// Message is a single chat message between two users. ID and Seq are
// assigned by the store; Seq orders messages within one conversation.
type Message struct {
	ID        string      `json:"id"`
	Seq       int64       `json:"seq"`
	Text      string      `json:"text"`
	HTML      string      `json:"html,omitempty"`
	Sender    string      `json:"sender"`
	Receiver  string      `json:"receiver"`
	Type      MessageType `json:"type"`
	FileID    string      `json:"fileId,omitempty"`
	Read      bool        `json:"read"`
	CreatedAt int64       `json:"createdAt"` // Unix timestamp (seconds)
	ReadAt    int64       `json:"readAt,omitempty"`
}

// Conversation is the denormalized summary of a message exchange between
// two users. There is exactly one per unordered participant pair.
type Conversation struct {
	PairKey       string    `json:"-"`
	Participants  [2]string `json:"participants"`
	LastMessageID string    `json:"lastMessageId"`
	LastMessageAt int64     `json:"lastMessageAt"`
}

type CallKind string

const (
	CallKindVoice CallKind = "voice"
	CallKindVideo CallKind = "video"
)

// OnlineUser is one entry of the presence snapshot broadcast to clients.
type OnlineUser struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"socketId"`
}

type ClientEventType string

const (
	ClientEventJoinRoom     ClientEventType = "join-room"
	ClientEventSendMessage  ClientEventType = "send-message"
	ClientEventStartCall    ClientEventType = "start-call"
	ClientEventAcceptCall   ClientEventType = "accept-call"
	ClientEventRejectCall   ClientEventType = "reject-call"
	ClientEventEndCall      ClientEventType = "end-call"
	ClientEventOffer        ClientEventType = "webrtc-offer"
	ClientEventAnswer       ClientEventType = "webrtc-answer"
	ClientEventICECandidate ClientEventType = "webrtc-ice-candidate"
)

// ClientEvent is the envelope for everything a client sends over the
// websocket. Which fields are meaningful depends on Type.
type ClientEvent struct {
	Type ClientEventType `json:"type"`

	// join-room
	RoomID string `json:"roomId,omitempty"`

	// send-message
	Text     string      `json:"text,omitempty"`
	Receiver string      `json:"receiver,omitempty"`
	MsgType  MessageType `json:"msgType,omitempty"`
	FileID   string      `json:"fileId,omitempty"`

	// signaling
	To        string          `json:"to,omitempty"`
	Kind      CallKind        `json:"kind,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type ServerEventType string

const (
	ServerEventOnlineUsers     ServerEventType = "online-users"
	ServerEventMessageReceived ServerEventType = "message-received"
	ServerEventMessageSent     ServerEventType = "message-sent"
	ServerEventMessageError    ServerEventType = "message-error"
	ServerEventIncomingCall    ServerEventType = "incoming-call"
	ServerEventCallAccepted    ServerEventType = "call-accepted"
	ServerEventCallRejected    ServerEventType = "call-rejected"
	ServerEventCallEnded       ServerEventType = "call-ended"
	ServerEventOffer           ServerEventType = "webrtc-offer"
	ServerEventAnswer          ServerEventType = "webrtc-answer"
	ServerEventICECandidate    ServerEventType = "webrtc-ice-candidate"
)

// ServerEvent is the envelope for everything the hub sends to a client.
type ServerEvent struct {
	Type ServerEventType `json:"type"`

	Users   []OnlineUser `json:"users,omitempty"`
	Message *Message     `json:"message,omitempty"`
	Error   string       `json:"error,omitempty"`

	From      string          `json:"from,omitempty"`
	Kind      CallKind        `json:"kind,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}
