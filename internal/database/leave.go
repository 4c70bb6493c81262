package database

import (
	"context"
	"time"

	"tallybot.io/tally-social/pkg/errors"
)

// LeaveEvent 成员退出事件.
// InviterMemberID is a denormalized copy of the credit-granting inviter
// taken from the matching join, so reversal stays correct even if the
// original invite code is deleted later.
type LeaveEvent struct {
	ID              int64     `gorm:"primaryKey"`
	GuildID         string    `gorm:"type:varchar(100);uniqueIndex:uni_leave"`
	MemberID        string    `gorm:"type:varchar(100);uniqueIndex:uni_leave"`
	CreatedAt       time.Time `gorm:"type:timestamp;uniqueIndex:uni_leave"`
	InviterMemberID *string   `gorm:"type:varchar(100);index"`
}

func (s *Store) CreateLeaveEvent(ctx context.Context, event *LeaveEvent) error {
	if event.ID == 0 {
		event.ID = s.NextID()
	}
	err := s.db.WithContext(ctx).Create(event).Error
	if IsDuplicateKeyErr(err) {
		return err
	}
	return errors.WrapAndReport(err, "create leave event")
}
