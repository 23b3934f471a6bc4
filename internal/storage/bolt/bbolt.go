package bolt

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dkeye/circles/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const DefaultListLimit = 50

var (
	bucketCircles       = []byte("circles")
	bucketMembers       = []byte("members")
	bucketMessages      = []byte("messages")
	bucketNotifications = []byte("notifications")
)

// Storage keeps circles, memberships, the message ledger and notification
// feeds in a single bbolt file. Members, messages and notifications live in
// one nested bucket per circle (or per user for notifications).
type Storage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewStorage(path string) (*Storage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketCircles, bucketMembers, bucketMessages, bucketNotifications} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	log.Info().Str("module", "storage.bolt").Str("path", path).Msg("opened")
	return &Storage{db: db, now: time.Now}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) CreateCircle(_ context.Context, c domain.Circle) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbCircle := DBCircle{
			ID:        string(c.ID),
			Name:      c.Name,
			FounderID: string(c.FounderID),
			IsPublic:  c.IsPublic,
			CreatedAt: c.CreatedAt.UnixNano(),
		}
		b := tx.Bucket(bucketCircles)
		if b.Get(dbCircle.Key()) != nil {
			return fmt.Errorf("circle %s already exists", c.ID)
		}
		data, err := dbCircle.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbCircle.Key(), data)
	})
}

func (s *Storage) GetCircle(_ context.Context, id domain.CircleID) (domain.Circle, error) {
	var c domain.Circle
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketCircles).Get([]byte(id))
		if data == nil {
			return domain.ErrCircleNotFound
		}
		var dbCircle DBCircle
		if err := dbCircle.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("failed to unmarshal circle: %w", err)
		}
		c = domain.Circle{
			ID:        domain.CircleID(dbCircle.ID),
			Name:      dbCircle.Name,
			FounderID: domain.UserID(dbCircle.FounderID),
			IsPublic:  dbCircle.IsPublic,
			CreatedAt: time.Unix(0, dbCircle.CreatedAt).UTC(),
		}
		return nil
	})
	return c, err
}

// AddMember reports false if the user already was a member.
func (s *Storage) AddMember(_ context.Context, circleID domain.CircleID, userID domain.UserID) (bool, error) {
	added := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketCircles).Get([]byte(circleID)) == nil {
			return domain.ErrCircleNotFound
		}
		b, err := tx.Bucket(bucketMembers).CreateBucketIfNotExists([]byte(circleID))
		if err != nil {
			return fmt.Errorf("failed to create members bucket: %w", err)
		}
		if b.Get([]byte(userID)) != nil {
			return nil
		}
		added = true
		return b.Put([]byte(userID), []byte{1})
	})
	return added, err
}

// RemoveMember reports false if the user was not a member.
func (s *Storage) RemoveMember(_ context.Context, circleID domain.CircleID, userID domain.UserID) (bool, error) {
	removed := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMembers).Bucket([]byte(circleID))
		if b == nil || b.Get([]byte(userID)) == nil {
			return nil
		}
		removed = true
		return b.Delete([]byte(userID))
	})
	return removed, err
}

func (s *Storage) IsMember(_ context.Context, circleID domain.CircleID, userID domain.UserID) (bool, error) {
	member := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMembers).Bucket([]byte(circleID))
		member = b != nil && b.Get([]byte(userID)) != nil
		return nil
	})
	return member, err
}

// AppendMessage stores msg under the next sequence number of its circle.
func (s *Storage) AppendMessage(_ context.Context, msg domain.ChatMessage) (domain.ChatMessage, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if msg.CircleID == "" {
			return fmt.Errorf("message missing circleID")
		}
		if tx.Bucket(bucketCircles).Get([]byte(msg.CircleID)) == nil {
			return domain.ErrCircleNotFound
		}
		circleBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(msg.CircleID))
		if err != nil {
			return fmt.Errorf("failed to create circle bucket: %w", err)
		}
		seq, err := circleBucket.NextSequence()
		if err != nil {
			return err
		}

		msg.Seq = seq
		msg.ID = uuid.NewString()
		msg.CreatedAt = s.now().UTC()

		dbMessage := DBMessage{
			Seq:       msg.Seq,
			ID:        msg.ID,
			CircleID:  string(msg.CircleID),
			UserID:    string(msg.UserID),
			Username:  msg.Username,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt.UnixNano(),
		}
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return circleBucket.Put(dbMessage.Key(), data)
	})
	if err != nil {
		return domain.ChatMessage{}, err
	}
	return msg, nil
}

// ListMessages returns up to q.Limit messages created before q.Before,
// oldest first.
func (s *Storage) ListMessages(_ context.Context, circleID domain.CircleID, q domain.HistoryQuery) ([]domain.ChatMessage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	cutoff := int64(math.MaxInt64)
	if !q.Before.IsZero() {
		cutoff = q.Before.UnixNano()
	}

	messages := make([]domain.ChatMessage, 0, limit)
	err := s.db.View(func(tx *bbolt.Tx) error {
		circleBucket := tx.Bucket(bucketMessages).Bucket([]byte(circleID))
		if circleBucket == nil {
			return nil
		}
		c := circleBucket.Cursor()
		for k, v := c.Last(); k != nil && len(messages) < limit; k, v = c.Prev() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMsg.CreatedAt >= cutoff {
				continue
			}
			messages = append(messages, domain.ChatMessage{
				ID:        dbMsg.ID,
				CircleID:  domain.CircleID(dbMsg.CircleID),
				Seq:       dbMsg.Seq,
				UserID:    domain.UserID(dbMsg.UserID),
				Username:  dbMsg.Username,
				Content:   dbMsg.Content,
				CreatedAt: time.Unix(0, dbMsg.CreatedAt).UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *Storage) SaveNotification(_ context.Context, n domain.Notification) (domain.Notification, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		userBucket, err := tx.Bucket(bucketNotifications).CreateBucketIfNotExists([]byte(n.UserID))
		if err != nil {
			return fmt.Errorf("failed to create notifications bucket: %w", err)
		}
		seq, err := userBucket.NextSequence()
		if err != nil {
			return err
		}
		n.ID = uuid.NewString()
		n.CreatedAt = s.now().UTC()

		dbNotification := DBNotification{
			Seq:        seq,
			ID:         n.ID,
			UserID:     string(n.UserID),
			CircleID:   string(n.CircleID),
			CircleName: n.CircleName,
			Message:    n.Message,
			CreatedAt:  n.CreatedAt.UnixNano(),
		}
		data, err := dbNotification.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal notification: %w", err)
		}
		return userBucket.Put(dbNotification.Key(), data)
	})
	if err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

// ListNotifications returns the newest limit notifications of userID, newest first.
func (s *Storage) ListNotifications(_ context.Context, userID domain.UserID, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var out []domain.Notification
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		c := userBucket.Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var dbN DBNotification
			if err := dbN.UnmarshalBinary(v); err != nil {
				return err
			}
			out = append(out, domain.Notification{
				ID:         dbN.ID,
				UserID:     domain.UserID(dbN.UserID),
				CircleID:   domain.CircleID(dbN.CircleID),
				CircleName: dbN.CircleName,
				Message:    dbN.Message,
				CreatedAt:  time.Unix(0, dbN.CreatedAt).UTC(),
			})
		}
		return nil
	})
	return out, err
}
