package database

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"tallybot.io/tally-social/pkg/errors"
)

// InviteCode 工会邀请码。code为平台签发的token，作为主键.
// InviterMemberID is null only for native/vanity codes that carry no
// inviting member. Uses is the last observed use counter and is
// monotonically non-decreasing while the code is live; snapshots of it
// are compared pairwise to infer which code absorbed a join.
type InviteCode struct {
	Code            string  `gorm:"type:varchar(100);primaryKey"`
	GuildID         string  `gorm:"type:varchar(100);index"`
	ChannelID       string  `gorm:"type:varchar(100)"`
	InviterMemberID *string `gorm:"type:varchar(100);index"`
	IsNative        bool    `gorm:"type:bool"`
	Reason          string  `gorm:"type:varchar(500)"`
	MaxAge          int     `gorm:"type:int"`
	MaxUses         int     `gorm:"type:int"`
	Uses            int     `gorm:"type:int"`
	Temporary       bool    `gorm:"type:bool"`
	// 邀请目标元数据(target user/application)，仅作展示用
	TargetMetadata JSONBMap `gorm:"type:jsonb"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	// 平台撤销邀请码时软删除，不影响历史归因
	DeletedAt *time.Time `gorm:"type:timestamp"`
}

// SaveInviteCodes overwrites the tracked state of a guild's invite list
// from a fresh platform snapshot.
func (s *Store) SaveInviteCodes(ctx context.Context, codes []*InviteCode) error {
	if len(codes) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"channel_id", "inviter_member_id", "is_native",
			"max_age", "max_uses", "uses", "temporary", "target_metadata", "updated_at"}),
	}).Create(&codes).Error
	return errors.WrapAndReport(err, "save invite codes")
}

func (s *Store) GetInviteCode(ctx context.Context, code string) (*InviteCode, error) {
	var entity InviteCode
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapAndReport(err, "query invite code")
	}
	return &entity, nil
}

// ListGuildInviteCodes returns the guild's codes, revoked ones included:
// a revoked code keeps explaining the joins it already absorbed.
func (s *Store) ListGuildInviteCodes(ctx context.Context, guildID string) ([]*InviteCode, error) {
	var entities []*InviteCode
	err := s.db.WithContext(ctx).Where("guild_id = ?", guildID).Find(&entities).Error
	if err != nil {
		return nil, errors.WrapAndReport(err, "query guild invite codes")
	}
	return entities, nil
}

func (s *Store) SoftDeleteInviteCode(ctx context.Context, code string) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&InviteCode{}).Where("code = ? AND deleted_at IS NULL", code).
		Update("deleted_at", &now).Error
	return errors.WrapAndReport(err, "soft delete invite code")
}
