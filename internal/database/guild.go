package database

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"tallybot.io/tally-social/pkg/errors"
)

// Guild 平台社区。id由平台分配，作为主键使用.
// Guilds are never hard-deleted while the bot has ever seen them, a
// departure is recorded through DeletedAt only.
type Guild struct {
	ID        string `gorm:"type:varchar(100);primaryKey"`
	Name      string `gorm:"type:varchar(200)"`
	Icon      string `gorm:"type:varchar(500)"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time `gorm:"type:timestamp"`
}

// UpsertGuild creates the guild on first observation and refreshes
// name/icon afterwards. A soft-deleted guild is revived.
func (s *Store) UpsertGuild(ctx context.Context, guild *Guild) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"name":       guild.Name,
			"icon":       guild.Icon,
			"updated_at": time.Now(),
			"deleted_at": nil,
		}),
	}).Create(guild).Error
	return errors.WrapAndReport(err, "upsert guild")
}

func (s *Store) GetGuild(ctx context.Context, guildID string) (*Guild, error) {
	var guild Guild
	err := s.db.WithContext(ctx).Where("id = ? AND deleted_at IS NULL", guildID).First(&guild).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapAndReport(err, "query guild")
	}
	return &guild, nil
}

func (s *Store) SoftDeleteGuild(ctx context.Context, guildID string) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&Guild{}).Where("id = ? AND deleted_at IS NULL", guildID).
		Update("deleted_at", &now).Error
	return errors.WrapAndReport(err, "soft delete guild")
}
