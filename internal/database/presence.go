package database

import (
	"context"
	"time"

	"gorm.io/gorm"
	"tallybot.io/tally-social/pkg/errors"
)

type PresenceStatus string

// persisted values follow the platform's short form.
const (
	PresenceOnline  = PresenceStatus("on")
	PresenceOffline = PresenceStatus("off")
)

// PresenceSample 成员在线状态采样，用于区分真实加入与客户端重连噪音.
type PresenceSample struct {
	ID        int64          `gorm:"primaryKey"`
	GuildID   string         `gorm:"type:varchar(100);index:idx_presence"`
	MemberID  string         `gorm:"type:varchar(100);index:idx_presence"`
	Status    PresenceStatus `gorm:"type:varchar(10)"`
	CreatedAt time.Time
}

func (s *Store) CreatePresenceSample(ctx context.Context, sample *PresenceSample) error {
	if sample.ID == 0 {
		sample.ID = s.NextID()
	}
	err := s.db.WithContext(ctx).Create(sample).Error
	return errors.WrapAndReport(err, "create presence sample")
}

func (s *Store) LatestPresence(ctx context.Context, guildID, memberID string) (*PresenceSample, error) {
	var sample PresenceSample
	err := s.db.WithContext(ctx).Where("guild_id = ? AND member_id = ?", guildID, memberID).
		Order("created_at desc").First(&sample).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapAndReport(err, "query latest presence")
	}
	return &sample, nil
}
