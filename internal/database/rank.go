package database

import (
	"context"
	"time"

	"gorm.io/gorm/clause"
	"tallybot.io/tally-social/pkg/errors"
)

// Rank 工会配置的积分门槛与外部角色的映射.
// Unique per (guild_id, role_id); duplicate thresholds across different
// roles are legal.
type Rank struct {
	ID          int64  `gorm:"primaryKey"`
	GuildID     string `gorm:"type:varchar(100);uniqueIndex:uni_rank"`
	RoleID      string `gorm:"type:varchar(100);uniqueIndex:uni_rank"`
	NumInvites  int    `gorm:"type:int"`
	Description string `gorm:"type:varchar(500)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s *Store) SaveRank(ctx context.Context, rank *Rank) error {
	if rank.ID == 0 {
		rank.ID = s.NextID()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "guild_id"}, {Name: "role_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"num_invites": rank.NumInvites,
			"description": rank.Description,
			"updated_at":  time.Now(),
		}),
	}).Create(rank).Error
	return errors.WrapAndReport(err, "save rank")
}

func (s *Store) ListGuildRanks(ctx context.Context, guildID string) ([]*Rank, error) {
	var entities []*Rank
	err := s.db.WithContext(ctx).Where("guild_id = ?", guildID).Find(&entities).Error
	if err != nil {
		return nil, errors.WrapAndReport(err, "query guild ranks")
	}
	return entities, nil
}

func (s *Store) DeleteRank(ctx context.Context, guildID, roleID string) error {
	err := s.db.WithContext(ctx).Where("guild_id = ? AND role_id = ?", guildID, roleID).
		Delete(&Rank{}).Error
	return errors.WrapAndReport(err, "delete rank")
}
