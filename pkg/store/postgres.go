package store

import (
	"context"
	"strings"
	"time"

	"ChatStream/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PgStore implements Store with hand-written statements over a pgx pool. It
// expects the tables created by models.AutoMigrate.
type PgStore struct {
	pool *pgxpool.Pool
}

// ConnectPool creates a pgx pool and verifies it with a ping.
func ConnectPool(ctx context.Context, dsn string, opts ...func(*pgxpool.Config)) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(strings.TrimSpace(dsn))
	if err != nil {
		return nil, errors.Wrap(err, "postgres: parse config")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 8
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	if cfg.HealthCheckPeriod == 0 {
		cfg.HealthCheckPeriod = time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: new pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres: ping")
	}
	return pool, nil
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

var _ Store = (*PgStore)(nil)

func pgNotFoundOr(err error, format string, args ...interface{}) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return errors.Wrapf(err, format, args...)
}

func (s *PgStore) CreateConversation(ctx context.Context, ownerID uint, title string) (*models.Conversation, error) {
	conv := models.Conversation{UserID: ownerID, Title: title}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (user_id, title, created_at, updated_at) VALUES ($1, $2, now(), now())
		 RETURNING id, created_at, updated_at`,
		int64(ownerID), title,
	).Scan(&id, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "create conversation")
	}
	conv.ID = uint(id)
	return &conv, nil
}

func (s *PgStore) GetConversation(ctx context.Context, conversationID uint) (*models.Conversation, error) {
	var (
		conv      models.Conversation
		id, owner int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = $1`,
		int64(conversationID),
	).Scan(&id, &owner, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, pgNotFoundOr(err, "get conversation %d", conversationID)
	}
	conv.ID, conv.UserID = uint(id), uint(owner)
	return &conv, nil
}

func (s *PgStore) ListConversations(ctx context.Context, ownerID uint, query string) ([]ConversationSummary, error) {
	sql := `SELECT c.id, c.user_id, c.title, c.created_at, c.updated_at,
			COALESCE((SELECT MAX(m.id) FROM messages m WHERE m.conversation_id = c.id), c.id) AS sort_id,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id) AS messages_count
		FROM conversations c
		WHERE c.user_id = $1`
	args := []any{int64(ownerID)}
	if query = strings.TrimSpace(query); query != "" {
		sql += ` AND LOWER(c.title) LIKE $2`
		args = append(args, "%"+strings.ToLower(query)+"%")
	}
	sql += ` ORDER BY sort_id DESC, c.id DESC`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "list conversations of user %d", ownerID)
	}
	defer rows.Close()

	out := []ConversationSummary{}
	for rows.Next() {
		var (
			sum               ConversationSummary
			id, owner, sortID int64
		)
		if err := rows.Scan(&id, &owner, &sum.Title, &sum.CreatedAt, &sum.UpdatedAt, &sortID, &sum.MessagesCount); err != nil {
			return nil, errors.Wrap(err, "scan conversation summary")
		}
		sum.ID, sum.UserID, sum.SortID = uint(id), uint(owner), uint(sortID)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate conversation summaries")
	}
	return out, nil
}

func (s *PgStore) OwnerOf(ctx context.Context, conversationID uint) (uint, error) {
	var owner int64
	err := s.pool.QueryRow(ctx, `SELECT user_id FROM conversations WHERE id = $1`, int64(conversationID)).Scan(&owner)
	if err != nil {
		return 0, pgNotFoundOr(err, "owner of conversation %d", conversationID)
	}
	return uint(owner), nil
}

func (s *PgStore) Append(ctx context.Context, conversationID uint, role models.Role, text string) (*models.Message, error) {
	if !role.Valid() {
		return nil, errors.Wrapf(ErrInvalidOperation, "role %q", role)
	}
	msg := models.Message{ConversationID: conversationID, Role: role, Content: text}
	var id int64
	// The INSERT ... SELECT yields no row when the conversation is missing.
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, role, content, created_at)
		 SELECT c.id, $2, $3, now() FROM conversations c WHERE c.id = $1
		 RETURNING id, created_at`,
		int64(conversationID), string(role), text,
	).Scan(&id, &msg.CreatedAt)
	if err != nil {
		return nil, pgNotFoundOr(err, "insert %s turn into conversation %d", role, conversationID)
	}
	msg.ID = uint(id)
	return &msg, nil
}

func (s *PgStore) ReadAll(ctx context.Context, conversationID uint) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = $1 ORDER BY id ASC`,
		int64(conversationID),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "read turns of conversation %d", conversationID)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var (
			m        models.Message
			id, conv int64
			role     string
		)
		if err := rows.Scan(&id, &conv, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan turn")
		}
		m.ID, m.ConversationID, m.Role = uint(id), uint(conv), models.Role(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate turns")
	}
	return msgs, nil
}

func (s *PgStore) GetTurn(ctx context.Context, turnID uint) (*models.Message, error) {
	var (
		m        models.Message
		id, conv int64
		role     string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages WHERE id = $1`,
		int64(turnID),
	).Scan(&id, &conv, &role, &m.Content, &m.CreatedAt)
	if err != nil {
		return nil, pgNotFoundOr(err, "get turn %d", turnID)
	}
	m.ID, m.ConversationID, m.Role = uint(id), uint(conv), models.Role(role)
	return &m, nil
}

func (s *PgStore) Overwrite(ctx context.Context, turnID uint, text string) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE messages SET content = $1 WHERE id = $2 AND role = $3`,
		text, int64(turnID), string(models.RoleUser),
	)
	if err != nil {
		return errors.Wrapf(err, "update turn %d", turnID)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}
	// Nothing updated: tell a missing turn apart from an assistant turn.
	turn, err := s.GetTurn(ctx, turnID)
	if err != nil {
		return err
	}
	return errors.Wrapf(ErrInvalidOperation, "turn %d has role %s", turnID, turn.Role)
}

func (s *PgStore) DeleteAfter(ctx context.Context, conversationID, turnID uint) (int64, error) {
	ct, err := s.pool.Exec(ctx,
		`DELETE FROM messages WHERE conversation_id = $1 AND id > $2`,
		int64(conversationID), int64(turnID),
	)
	if err != nil {
		return 0, errors.Wrapf(err, "delete turns after %d in conversation %d", turnID, conversationID)
	}
	return ct.RowsAffected(), nil
}
