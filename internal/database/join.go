package database

import (
	"context"
	"time"

	"tallybot.io/tally-social/pkg/errors"
)

// JoinEvent 成员加入事件，归因结果随行持久化.
// ExactMatchCode is set only when attribution was unambiguous;
// PossibleMatches carries the serialized candidate codes otherwise.
// The (guild_id, member_id, created_at) unique index is the hard
// dedup guarantee: one member cannot produce two joins at the same
// instant, re-delivered platform events bounce off it.
type JoinEvent struct {
	ID              int64     `gorm:"primaryKey"`
	GuildID         string    `gorm:"type:varchar(100);uniqueIndex:uni_join"`
	MemberID        string    `gorm:"type:varchar(100);uniqueIndex:uni_join"`
	CreatedAt       time.Time `gorm:"type:timestamp;uniqueIndex:uni_join"`
	ExactMatchCode  *string   `gorm:"type:varchar(100);index"`
	PossibleMatches string    `gorm:"type:varchar(2000)"`
}

// CreateJoinEvent inserts the event. A unique key violation is returned
// untranslated, callers decide whether it is a retry signal.
func (s *Store) CreateJoinEvent(ctx context.Context, event *JoinEvent) error {
	if event.ID == 0 {
		event.ID = s.NextID()
	}
	err := s.db.WithContext(ctx).Create(event).Error
	if IsDuplicateKeyErr(err) {
		return err
	}
	return errors.WrapAndReport(err, "create join event")
}

// LatestUnreversedJoin returns the member's most recent join that no
// later leave has consumed, or nil.
func (s *Store) LatestUnreversedJoin(ctx context.Context, guildID, memberID string) (*JoinEvent, error) {
	var entities []*JoinEvent
	err := s.db.WithContext(ctx).Raw("SELECT * FROM tally.join_events \nWHERE guild_id = ? AND member_id = ? \nAND created_at > COALESCE((SELECT max(created_at) FROM tally.leave_events WHERE guild_id = ? AND member_id = ?), to_timestamp(0)) \nORDER BY created_at DESC LIMIT 1",
		guildID, memberID, guildID, memberID).Scan(&entities).Error
	if err != nil {
		return nil, errors.WrapAndReport(err, "query latest unreversed join")
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return entities[0], nil
}
