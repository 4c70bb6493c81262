package database

import (
	"context"

	"tallybot.io/tally-social/pkg/errors"
)

// InviteCreditRow 单个邀请人的积分组成.
type InviteCreditRow struct {
	InviterID string
	// 归因成功的邀请数，不含自邀
	Joins int64
	// 被邀请人后续退出数
	Leaves int64
	// 人工修正合计
	Adjusted int64
}

func (r *InviteCreditRow) Credit() int {
	return int(r.Joins - r.Leaves + r.Adjusted)
}

// CreditFor computes the member's current invite credit straight from the
// event log. Nothing is cached in a running counter, so the value is safe
// to recompute any number of times.
func (s *Store) CreditFor(ctx context.Context, guildID, memberID string) (int, error) {
	var row InviteCreditRow
	err := s.db.WithContext(ctx).Raw("SELECT ? inviter_id, \n(SELECT count(*) FROM tally.join_events j JOIN tally.invite_codes c ON j.exact_match_code = c.code \nWHERE j.guild_id = ? AND c.inviter_member_id = ? AND j.member_id <> c.inviter_member_id) joins, \n(SELECT count(*) FROM tally.leave_events WHERE guild_id = ? AND inviter_member_id = ?) leaves, \nCOALESCE((SELECT sum(amount) FROM tally.custom_invite_adjustments WHERE guild_id = ? AND member_id = ?), 0) adjusted",
		memberID, guildID, memberID, guildID, memberID, guildID, memberID).Scan(&row).Error
	if err != nil {
		return 0, errors.WrapAndReport(err, "query member invite credit")
	}
	return row.Credit(), nil
}

// QueryInviteLeaderboard returns the guild's top inviters by attributed
// joins, with reversal and adjustment columns alongside.
func (s *Store) QueryInviteLeaderboard(ctx context.Context, guildID string, limit, offset int) ([]*InviteCreditRow, error) {
	var entities []*InviteCreditRow
	err := s.db.WithContext(ctx).Raw("SELECT t.*, \n(SELECT count(*) FROM tally.leave_events WHERE guild_id = ? AND inviter_member_id = t.inviter_id) leaves, \nCOALESCE((SELECT sum(amount) FROM tally.custom_invite_adjustments WHERE guild_id = ? AND member_id = t.inviter_id), 0) adjusted \nFROM (\nSELECT c.inviter_member_id inviter_id, count(*) joins \nFROM tally.join_events j JOIN tally.invite_codes c ON j.exact_match_code = c.code \nWHERE j.guild_id = ? AND c.inviter_member_id IS NOT NULL AND j.member_id <> c.inviter_member_id \nGROUP BY c.inviter_member_id ORDER BY joins DESC LIMIT ? OFFSET ?\n) t",
		guildID, guildID, guildID, limit, offset).Scan(&entities).Error
	if err != nil {
		return nil, errors.WrapAndReport(err, "query invite leaderboard")
	}
	return entities, nil
}
