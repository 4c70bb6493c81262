package database

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"tallybot.io/tally-social/pkg/errors"
)

// Member 平台用户，全局唯一，一人一行，不从属于某个工会.
// Guild-scoped facts reference members by id.
type Member struct {
	ID        string `gorm:"type:varchar(100);primaryKey"`
	Name      string `gorm:"type:varchar(200)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertMember lazily creates the member on first observation in any guild.
func (s *Store) UpsertMember(ctx context.Context, member *Member) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"name":       member.Name,
			"updated_at": time.Now(),
		}),
	}).Create(member).Error
	return errors.WrapAndReport(err, "upsert member")
}

func (s *Store) GetMember(ctx context.Context, memberID string) (*Member, error) {
	var member Member
	err := s.db.WithContext(ctx).Where("id = ?", memberID).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapAndReport(err, "query member")
	}
	return &member, nil
}
