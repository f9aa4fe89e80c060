package storage

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"vestnik/internal/auth"
	"vestnik/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketUsers         = []byte("users")
	bucketUsersByEmail  = []byte("users_email")
	bucketMessages      = []byte("messages")
	bucketConversations = []byte("conversations")
)

const listUsersLimit = 50

type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketUsers); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketUsersByEmail); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMessages); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketConversations); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// PairKey returns the canonical key of the conversation between two users.
// It is the same regardless of argument order, so there is exactly one
// conversation per unordered pair.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// UpsertCredentials stores new or updated user credentials and maintains
// the email lookup index. Fields the auth layer does not own (contacts,
// last seen) are carried over from the existing record.
func (s *BboltStorage) UpsertCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:           credentials.ID,
			Name:         credentials.Name,
			Email:        credentials.Email,
			AvatarURL:    credentials.AvatarURL,
			LastSeen:     credentials.Presence.LastSeen,
			PasswordHash: credentials.PasswordHash,
		}

		if existing := b.Get(dbUser.Key()); existing != nil {
			var prev DBUser
			if err := prev.UnmarshalBinary(existing); err != nil {
				return err
			}
			dbUser.Contacts = prev.Contacts
			if prev.LastSeen > dbUser.LastSeen {
				dbUser.LastSeen = prev.LastSeen
			}
		}

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		if err := b.Put(dbUser.Key(), data); err != nil {
			return err
		}

		idx := tx.Bucket(bucketUsersByEmail)
		return idx.Put([]byte(strings.ToLower(dbUser.Email)), dbUser.Key())
	})
}

// GetCredentialsByEmail returns the credentials of the user registered
// with the given email, or models.ErrNotFound.
func (s *BboltStorage) GetCredentialsByEmail(email string) (auth.UserCredentials, error) {
	var creds auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bucketUsersByEmail)
		id := idx.Get([]byte(strings.ToLower(email)))
		if id == nil {
			return models.ErrNotFound
		}

		data := tx.Bucket(bucketUsers).Get(id)
		if data == nil {
			return models.ErrNotFound
		}

		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		creds = credentialsFromDB(dbUser)
		return nil
	})
	return creds, err
}

// GetUser returns a user by ID, or models.ErrNotFound.
func (s *BboltStorage) GetUser(id string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		user = userFromDB(dbUser)
		return nil
	})
	return user, err
}

// TouchLastSeen stamps when the user was last reachable over a live
// connection. Returns models.ErrNotFound for an unknown user.
func (s *BboltStorage) TouchLastSeen(userID string, at time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		data := b.Get([]byte(userID))
		if data == nil {
			return models.ErrNotFound
		}

		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		dbUser.LastSeen = at.Unix()

		out, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), out)
	})
}

// AddContact links two users as mutual contacts. Adding someone who is
// already a contact changes nothing. Returns models.ErrNotFound if
// either user does not exist.
func (s *BboltStorage) AddContact(userID, contactID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := addContactTo(tx, userID, contactID); err != nil {
			return err
		}
		return addContactTo(tx, contactID, userID)
	})
}

func addContactTo(tx *bbolt.Tx, ownerID, contactID string) error {
	b := tx.Bucket(bucketUsers)
	data := b.Get([]byte(ownerID))
	if data == nil {
		return models.ErrNotFound
	}

	var owner DBUser
	if err := owner.UnmarshalBinary(data); err != nil {
		return err
	}
	if slices.Contains(owner.Contacts, contactID) {
		return nil
	}
	if b.Get([]byte(contactID)) == nil {
		return models.ErrNotFound
	}
	owner.Contacts = append(owner.Contacts, contactID)

	out, err := owner.MarshalBinary()
	if err != nil {
		return err
	}
	return b.Put(owner.Key(), out)
}

// ListContacts returns the users on userID's contact list, in the order
// they were added.
func (s *BboltStorage) ListContacts(userID string) ([]models.User, error) {
	var contacts []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		data := b.Get([]byte(userID))
		if data == nil {
			return models.ErrNotFound
		}

		var owner DBUser
		if err := owner.UnmarshalBinary(data); err != nil {
			return err
		}
		for _, id := range owner.Contacts {
			contactData := b.Get([]byte(id))
			if contactData == nil {
				continue
			}
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(contactData); err != nil {
				return err
			}
			contacts = append(contacts, userFromDB(dbUser))
		}
		return nil
	})
	return contacts, err
}

// ListUsers returns up to 50 users excluding excludeID, optionally
// filtered by a case-insensitive substring match on name or email.
func (s *BboltStorage) ListUsers(search, excludeID string) ([]models.User, error) {
	needle := strings.ToLower(search)
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			if len(users) >= listUsersLimit {
				return nil
			}
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbUser.ID == excludeID {
				return nil
			}
			if needle != "" &&
				!strings.Contains(strings.ToLower(dbUser.Name), needle) &&
				!strings.Contains(strings.ToLower(dbUser.Email), needle) {
				return nil
			}
			users = append(users, userFromDB(dbUser))
			return nil
		})
	})
	return users, err
}

// SaveMessage persists a message and updates the conversation summary for
// its participant pair in the same transaction. The returned message
// carries the server-assigned ID, sequence number and timestamp.
func (s *BboltStorage) SaveMessage(message models.Message) (models.Message, error) {
	pairKey := PairKey(message.Sender, message.Receiver)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		pairBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(pairKey))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		seq, err := pairBucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate message seq: %w", err)
		}

		message.ID = uuid.NewString()
		message.Seq = int64(seq)
		message.CreatedAt = s.now().Unix()

		dbMessage := DBMessage{
			ID:        message.ID,
			Seq:       message.Seq,
			Timestamp: message.CreatedAt,
			Sender:    message.Sender,
			Receiver:  message.Receiver,
			Text:      message.Text,
			Type:      string(message.Type),
			FileID:    message.FileID,
		}

		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := pairBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		return upsertConversation(tx, pairKey, message)
	})
	if err != nil {
		return models.Message{}, err
	}

	return message, nil
}

func upsertConversation(tx *bbolt.Tx, pairKey string, message models.Message) error {
	b := tx.Bucket(bucketConversations)

	dbConv := DBConversation{
		PairKey:      pairKey,
		ParticipantA: message.Sender,
		ParticipantB: message.Receiver,
	}
	if data := b.Get([]byte(pairKey)); data != nil {
		if err := dbConv.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("failed to unmarshal conversation: %w", err)
		}
	}

	dbConv.LastMessageID = message.ID
	dbConv.LastMessageAt = message.CreatedAt

	data, err := dbConv.MarshalBinary()
	if err != nil {
		return err
	}
	return b.Put(dbConv.Key(), data)
}

// MarkMessagesRead flags all unread messages from sender to receiver as
// read and returns how many were updated. Calling it again is a no-op.
func (s *BboltStorage) MarkMessagesRead(sender, receiver string) (int, error) {
	pairKey := PairKey(sender, receiver)
	readAt := s.now().Unix()

	updated := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		pairBucket := tx.Bucket(bucketMessages).Bucket([]byte(pairKey))
		if pairBucket == nil {
			return nil
		}

		c := pairBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMsg.Sender != sender || dbMsg.Receiver != receiver || dbMsg.Read {
				continue
			}

			dbMsg.Read = true
			dbMsg.ReadAt = readAt
			data, err := dbMsg.MarshalBinary()
			if err != nil {
				return err
			}
			if err := pairBucket.Put(k, data); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// ListMessages returns the full ordered history between two users, both
// directions interleaved by sequence.
func (s *BboltStorage) ListMessages(a, b string) ([]models.Message, error) {
	pairKey := PairKey(a, b)
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		pairBucket := tx.Bucket(bucketMessages).Bucket([]byte(pairKey))
		if pairBucket == nil {
			return nil // No messages for this pair
		}

		return pairBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, messageFromDB(dbMsg))
			return nil
		})
	})
	return messages, err
}

// ListConversations returns the conversation summaries the user takes
// part in, most recent first.
func (s *BboltStorage) ListConversations(userID string) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		return b.ForEach(func(k, v []byte) error {
			var dbConv DBConversation
			if err := dbConv.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbConv.ParticipantA != userID && dbConv.ParticipantB != userID {
				return nil
			}
			conversations = append(conversations, models.Conversation{
				PairKey:       dbConv.PairKey,
				Participants:  [2]string{dbConv.ParticipantA, dbConv.ParticipantB},
				LastMessageID: dbConv.LastMessageID,
				LastMessageAt: dbConv.LastMessageAt,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].LastMessageAt > conversations[j].LastMessageAt
	})
	return conversations, nil
}

func userFromDB(u DBUser) models.User {
	return models.User{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
		Presence: models.Presence{
			LastSeen: u.LastSeen,
		},
	}
}

func credentialsFromDB(u DBUser) auth.UserCredentials {
	return auth.UserCredentials{
		User:         userFromDB(u),
		PasswordHash: u.PasswordHash,
	}
}

func messageFromDB(m DBMessage) models.Message {
	return models.Message{
		ID:        m.ID,
		Seq:       m.Seq,
		Text:      m.Text,
		Sender:    m.Sender,
		Receiver:  m.Receiver,
		Type:      models.MessageType(m.Type),
		FileID:    m.FileID,
		Read:      m.Read,
		CreatedAt: m.Timestamp,
		ReadAt:    m.ReadAt,
	}
}
