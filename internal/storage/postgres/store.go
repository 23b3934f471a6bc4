package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/circles/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	DefaultListLimit = 50

	foreignKeyViolation = "23503"
)

// Config holds connection pool settings.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// Store implements the circle, ledger and notification ports on PostgreSQL.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens dsn with the pgx database/sql driver and pings it.
func NewStore(dsn string, config *Config) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultConfig()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewStoreWithDB(db), nil
}

func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) CreateCircle(ctx context.Context, c domain.Circle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circles (id, name, founder_id, is_public, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, string(c.ID), c.Name, string(c.FounderID), c.IsPublic, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create circle: %w", err)
	}
	return nil
}

func (s *Store) GetCircle(ctx context.Context, id domain.CircleID) (domain.Circle, error) {
	var c domain.Circle
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, founder_id, is_public, created_at
		FROM circles
		WHERE id = $1
	`, string(id)).Scan(&c.ID, &c.Name, &c.FounderID, &c.IsPublic, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Circle{}, domain.ErrCircleNotFound
	}
	if err != nil {
		return domain.Circle{}, fmt.Errorf("get circle: %w", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (s *Store) AddMember(ctx context.Context, circleID domain.CircleID, userID domain.UserID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO circle_members (circle_id, user_id, joined_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (circle_id, user_id) DO NOTHING
	`, string(circleID), string(userID), s.now().UTC())
	if err != nil {
		return false, mapError("add member", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add member: %w", err)
	}
	return n > 0, nil
}

func (s *Store) RemoveMember(ctx context.Context, circleID domain.CircleID, userID domain.UserID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM circle_members WHERE circle_id = $1 AND user_id = $2
	`, string(circleID), string(userID))
	if err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}
	return n > 0, nil
}

func (s *Store) IsMember(ctx context.Context, circleID domain.CircleID, userID domain.UserID) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM circle_members WHERE circle_id = $1 AND user_id = $2)
	`, string(circleID), string(userID)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("is member: %w", err)
	}
	return ok, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg domain.ChatMessage) (domain.ChatMessage, error) {
	msg.ID = uuid.NewString()
	msg.CreatedAt = s.now().UTC()

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_messages (id, circle_id, user_id, username, content, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING seq
	`, msg.ID, string(msg.CircleID), string(msg.UserID), msg.Username, msg.Content, msg.CreatedAt).Scan(&msg.Seq)
	if err != nil {
		return domain.ChatMessage{}, mapError("append message", err)
	}
	return msg, nil
}

// ListMessages returns up to q.Limit messages created before q.Before, oldest first.
func (s *Store) ListMessages(ctx context.Context, circleID domain.CircleID, q domain.HistoryQuery) ([]domain.ChatMessage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	before := q.Before
	if before.IsZero() {
		before = s.now()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, circle_id, user_id, username, content, created_at
		FROM chat_messages
		WHERE circle_id = $1 AND created_at < $2
		ORDER BY seq DESC
		LIMIT $3
	`, string(circleID), before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.Seq, &m.ID, &m.CircleID, &m.UserID, &m.Username, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) SaveNotification(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	n.ID = uuid.NewString()
	n.CreatedAt = s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, circle_id, circle_name, message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, n.ID, string(n.UserID), string(n.CircleID), n.CircleName, n.Message, n.CreatedAt)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("save notification: %w", err)
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID domain.UserID, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, circle_id, circle_name, message, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, string(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.CircleID, &n.CircleName, &n.Message, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.CreatedAt = n.CreatedAt.UTC()
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

// mapError turns a foreign key violation on circle_id into ErrCircleNotFound.
func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return domain.ErrCircleNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
