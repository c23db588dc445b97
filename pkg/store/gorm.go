package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ChatStream/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenDB opens a gorm connection for one of the supported drivers.
func OpenDB(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(gormWriter{}, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", driver)
	}
	return db, nil
}

type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	log.Warn().Str("component", "gorm").Msgf(format, args...)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var _ Store = (*GormStore)(nil)

func notFoundOr(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return errors.Wrapf(err, format, args...)
}

func (s *GormStore) CreateConversation(ctx context.Context, ownerID uint, title string) (*models.Conversation, error) {
	conv := models.Conversation{UserID: ownerID, Title: title}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, errors.Wrap(err, "create conversation")
	}
	return &conv, nil
}

func (s *GormStore) GetConversation(ctx context.Context, conversationID uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).First(&conv, conversationID).Error; err != nil {
		return nil, notFoundOr(err, "get conversation %d", conversationID)
	}
	return &conv, nil
}

type summaryRow struct {
	ID            uint
	UserID        uint
	Title         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SortID        uint
	MessagesCount int64
}

func (s *GormStore) ListConversations(ctx context.Context, ownerID uint, query string) ([]ConversationSummary, error) {
	q := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Select(`conversations.id, conversations.user_id, conversations.title, conversations.created_at, conversations.updated_at,
			COALESCE((SELECT MAX(m.id) FROM messages m WHERE m.conversation_id = conversations.id), conversations.id) AS sort_id,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = conversations.id) AS messages_count`).
		Where("conversations.user_id = ?", ownerID)
	if query = strings.TrimSpace(query); query != "" {
		q = q.Where("LOWER(conversations.title) LIKE ?", "%"+strings.ToLower(query)+"%")
	}

	var rows []summaryRow
	if err := q.Order("sort_id DESC").Order("conversations.id DESC").Scan(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "list conversations of user %d", ownerID)
	}
	out := make([]ConversationSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, ConversationSummary{
			Conversation: models.Conversation{
				ID:        r.ID,
				UserID:    r.UserID,
				Title:     r.Title,
				CreatedAt: r.CreatedAt,
				UpdatedAt: r.UpdatedAt,
			},
			SortID:        r.SortID,
			MessagesCount: r.MessagesCount,
		})
	}
	return out, nil
}

func (s *GormStore) OwnerOf(ctx context.Context, conversationID uint) (uint, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).Select("id", "user_id").First(&conv, conversationID).Error
	if err != nil {
		return 0, notFoundOr(err, "owner of conversation %d", conversationID)
	}
	return conv.UserID, nil
}

func (s *GormStore) Append(ctx context.Context, conversationID uint, role models.Role, text string) (*models.Message, error) {
	if !role.Valid() {
		return nil, errors.Wrapf(ErrInvalidOperation, "role %q", role)
	}
	var msg models.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.Select("id").First(&conv, conversationID).Error; err != nil {
			return notFoundOr(err, "append to conversation %d", conversationID)
		}
		msg = models.Message{ConversationID: conversationID, Role: role, Content: text}
		if err := tx.Create(&msg).Error; err != nil {
			return errors.Wrapf(err, "insert %s turn into conversation %d", role, conversationID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *GormStore) ReadAll(ctx context.Context, conversationID uint) ([]models.Message, error) {
	msgs := []models.Message{}
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, errors.Wrapf(err, "read turns of conversation %d", conversationID)
	}
	return msgs, nil
}

func (s *GormStore) GetTurn(ctx context.Context, turnID uint) (*models.Message, error) {
	var msg models.Message
	if err := s.db.WithContext(ctx).First(&msg, turnID).Error; err != nil {
		return nil, notFoundOr(err, "get turn %d", turnID)
	}
	return &msg, nil
}

func (s *GormStore) Overwrite(ctx context.Context, turnID uint, text string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg models.Message
		if err := tx.Select("id", "role").First(&msg, turnID).Error; err != nil {
			return notFoundOr(err, "overwrite turn %d", turnID)
		}
		if msg.Role != models.RoleUser {
			return errors.Wrapf(ErrInvalidOperation, "turn %d has role %s", turnID, msg.Role)
		}
		err := tx.Model(&models.Message{}).Where("id = ?", turnID).Update("content", text).Error
		return errors.Wrapf(err, "update turn %d", turnID)
	})
}

func (s *GormStore) DeleteAfter(ctx context.Context, conversationID, turnID uint) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("conversation_id = ? AND id > ?", conversationID, turnID).
		Delete(&models.Message{})
	if res.Error != nil {
		return 0, errors.Wrapf(res.Error, "delete turns after %d in conversation %d", turnID, conversationID)
	}
	return res.RowsAffected, nil
}
