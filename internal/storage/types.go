package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID           string   `msgpack:"id"`
	Name         string   `msgpack:"name"`
	Email        string   `msgpack:"email"`
	AvatarURL    string   `msgpack:"avatarUrl"`
	LastSeen     int64    `msgpack:"lastSeen"`
	Contacts     []string `msgpack:"contacts"`
	PasswordHash string   `msgpack:"passwordHash"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBMessage struct {
	ID        string `msgpack:"id"`
	Seq       int64  `msgpack:"seq"`
	Timestamp int64  `msgpack:"timestamp"`
	Sender    string `msgpack:"sender"`
	Receiver  string `msgpack:"receiver"`
	Text      string `msgpack:"text"`
	Type      string `msgpack:"type"`
	FileID    string `msgpack:"fileId"`
	Read      bool   `msgpack:"read"`
	ReadAt    int64  `msgpack:"readAt"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(m.Seq))
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBConversation struct {
	PairKey       string `msgpack:"pairKey"`
	ParticipantA  string `msgpack:"participantA"`
	ParticipantB  string `msgpack:"participantB"`
	LastMessageID string `msgpack:"lastMessageId"`
	LastMessageAt int64  `msgpack:"lastMessageAt"`
}

func (c *DBConversation) Key() []byte {
	return []byte(c.PairKey)
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}
