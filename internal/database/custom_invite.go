package database

import (
	"context"
	"time"

	"tallybot.io/tally-social/pkg/errors"
)

// CustomInviteAdjustment 人工邀请积分修正，由管理员签发，正负皆可.
type CustomInviteAdjustment struct {
	ID              int64  `gorm:"primaryKey"`
	GuildID         string `gorm:"type:varchar(100);index"`
	MemberID        string `gorm:"type:varchar(100);index"`
	CreatorMemberID string `gorm:"type:varchar(100)"`
	Amount          int    `gorm:"type:int"`
	Reason          string `gorm:"type:varchar(500)"`
	CreatedAt       time.Time
}

func (s *Store) CreateAdjustment(ctx context.Context, adjustment *CustomInviteAdjustment) error {
	if adjustment.ID == 0 {
		adjustment.ID = s.NextID()
	}
	err := s.db.WithContext(ctx).Create(adjustment).Error
	return errors.WrapAndReport(err, "create custom invite adjustment")
}
