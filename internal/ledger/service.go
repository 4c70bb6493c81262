package ledger

import (
	"context"
	"fmt"
	"time"

	"tallybot.io/tally-social/internal/database"
	"tallybot.io/tally-social/pkg/concurrent"
	"tallybot.io/tally-social/pkg/errors"
	"tallybot.io/tally-social/pkg/log"
)

// Store is the slice of the entity store the ledger needs. Satisfied by
// *database.Store.
type Store interface {
	GetGuild(ctx context.Context, guildID string) (*database.Guild, error)
	GetMember(ctx context.Context, memberID string) (*database.Member, error)
	GetInviteCode(ctx context.Context, code string) (*database.InviteCode, error)
	CreateJoinEvent(ctx context.Context, event *database.JoinEvent) error
	LatestUnreversedJoin(ctx context.Context, guildID, memberID string) (*database.JoinEvent, error)
	CreateLeaveEvent(ctx context.Context, event *database.LeaveEvent) error
	CreateAdjustment(ctx context.Context, adjustment *database.CustomInviteAdjustment) error
	CreditFor(ctx context.Context, guildID, memberID string) (int, error)
	ListGuildRanks(ctx context.Context, guildID string) ([]*database.Rank, error)
	LatestPresence(ctx context.Context, guildID, memberID string) (*database.PresenceSample, error)
}

// Publisher hands recomputed credit to the external role-assignment
// collaborator. Assigning the role itself is not this service's job.
type Publisher interface {
	PublishCreditChanged(guildID, memberID string, credit int, rankRoleID string) error
}

type Options struct {
	// 人工修正绝对值上限，零值不限制
	MaxAdjustmentAbs int
	// 重连噪音窗口，零值关闭该检查
	ReconnectWindow time.Duration
}

// Service owns the invite credit ledger: it binds joins to invite codes,
// keeps the event log append-only and derives credit and rank from it.
type Service struct {
	store Store
	bus   Publisher
	locks *concurrent.KeyedMutex
	opts  Options
}

func NewService(store Store, bus Publisher, opts Options) *Service {
	return &Service{
		store: store,
		bus:   bus,
		locks: concurrent.NewKeyedMutex(),
		opts:  opts,
	}
}

// memberKey 每个(工会,成员)一把锁，跨工会互不阻塞.
func memberKey(guildID, memberID string) string {
	return fmt.Sprintf("%v:%v", guildID, memberID)
}

// JoinNotification carries one platform join plus the invite list
// snapshots taken immediately before and after it.
type JoinNotification struct {
	GuildID   string
	MemberID  string
	Timestamp time.Time
	Before    map[string]CodeSnapshot
	After     map[string]CodeSnapshot
}

type JoinResult struct {
	Attribution Attribution
	// InviterID 获得积分的邀请人，未归因或自邀时为空
	InviterID string
	Credit    int
	Rank      *database.Rank
}

// HandleJoin resolves attribution, appends the join event and recomputes
// the inviter's credit. Duplicate deliveries of the same platform event
// come back as ErrDuplicateEvent, a no-op retry signal.
func (s *Service) HandleJoin(ctx context.Context, notification JoinNotification) (*JoinResult, error) {
	if err := s.checkReferences(ctx, notification.GuildID, notification.MemberID); err != nil {
		return nil, err
	}

	attribution, err := s.recordJoin(ctx, notification)
	if err != nil {
		return nil, err
	}
	result := &JoinResult{Attribution: attribution}
	if attribution.Kind != AttributionResolved {
		return result, nil
	}

	code, err := s.store.GetInviteCode(ctx, attribution.Code)
	if err != nil {
		return nil, err
	}
	if code == nil || code.InviterMemberID == nil {
		// 原生邀请码无邀请人，无积分产生
		return result, nil
	}
	inviter := *code.InviterMemberID
	if inviter == notification.MemberID {
		log.Debugf("member %v joined guild %v through own code %v, no credit",
			notification.MemberID, notification.GuildID, code.Code)
		return result, nil
	}
	credit, rank, err := s.recompute(ctx, notification.GuildID, inviter)
	if err != nil {
		return nil, err
	}
	result.InviterID = inviter
	result.Credit = credit
	result.Rank = rank
	return result, nil
}

// recordJoin serializes writes for the joining member and appends the
// join event. Holding only the joiner's lock here keeps the later
// recompute (under the inviter's lock) free of lock-ordering cycles.
func (s *Service) recordJoin(ctx context.Context, notification JoinNotification) (Attribution, error) {
	key := memberKey(notification.GuildID, notification.MemberID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	if s.opts.ReconnectWindow > 0 {
		noise, err := s.isReconnectNoise(ctx, notification.GuildID, notification.MemberID)
		if err != nil {
			return Attribution{}, err
		}
		if noise {
			return Attribution{}, errors.Wrapf(ErrDuplicateEvent,
				"member %v reconnected to guild %v", notification.MemberID, notification.GuildID)
		}
	}

	attribution := Resolve(notification.Before, notification.After)
	if attribution.Kind == AttributionResolved {
		// 归因码必须属于同一工会
		code, err := s.store.GetInviteCode(ctx, attribution.Code)
		if err != nil {
			return Attribution{}, err
		}
		if code == nil || code.GuildID != notification.GuildID {
			return Attribution{}, errors.Wrapf(ErrUnknownReference,
				"invite code %v not tracked for guild %v", attribution.Code, notification.GuildID)
		}
	}

	err := s.store.CreateJoinEvent(ctx, &database.JoinEvent{
		GuildID:         notification.GuildID,
		MemberID:        notification.MemberID,
		CreatedAt:       notification.Timestamp,
		ExactMatchCode:  attribution.ExactMatch(),
		PossibleMatches: attribution.MarshalCandidates(),
	})
	if database.IsDuplicateKeyErr(err) {
		return Attribution{}, errors.Wrapf(ErrDuplicateEvent,
			"join of %v to %v at %v already recorded",
			notification.MemberID, notification.GuildID, notification.Timestamp)
	}
	if err != nil {
		return Attribution{}, err
	}
	return attribution, nil
}

// isReconnectNoise reports whether the join is a client reconnect of a
// member we already track as present: last presence sample inside the
// window says online and their latest join was never reversed.
func (s *Service) isReconnectNoise(ctx context.Context, guildID, memberID string) (bool, error) {
	latest, err := s.store.LatestUnreversedJoin(ctx, guildID, memberID)
	if err != nil {
		return false, err
	}
	if latest == nil {
		return false, nil
	}
	presence, err := s.store.LatestPresence(ctx, guildID, memberID)
	if err != nil {
		return false, err
	}
	return presence != nil && presence.Status == database.PresenceOnline &&
		time.Since(presence.CreatedAt) <= s.opts.ReconnectWindow, nil
}

type LeaveNotification struct {
	GuildID   string
	MemberID  string
	Timestamp time.Time
}

type LeaveResult struct {
	// InviterID 被冲销积分的邀请人，无归因时为空
	InviterID string
	Credit    int
	Rank      *database.Rank
}

// HandleLeave appends the leave event carrying the inviter denormalized
// from the member's latest unreversed join, then reverses that
// inviter's credit. The leaver's own earned credit is untouched.
func (s *Service) HandleLeave(ctx context.Context, notification LeaveNotification) (*LeaveResult, error) {
	if err := s.checkReferences(ctx, notification.GuildID, notification.MemberID); err != nil {
		return nil, err
	}

	inviter, err := s.recordLeave(ctx, notification)
	if err != nil {
		return nil, err
	}
	result := &LeaveResult{}
	if inviter == nil {
		return result, nil
	}
	credit, rank, err := s.recompute(ctx, notification.GuildID, *inviter)
	if err != nil {
		return nil, err
	}
	result.InviterID = *inviter
	result.Credit = credit
	result.Rank = rank
	return result, nil
}

func (s *Service) recordLeave(ctx context.Context, notification LeaveNotification) (*string, error) {
	key := memberKey(notification.GuildID, notification.MemberID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	join, err := s.store.LatestUnreversedJoin(ctx, notification.GuildID, notification.MemberID)
	if err != nil {
		return nil, err
	}
	var inviter *string
	if join != nil && join.ExactMatchCode != nil {
		code, err := s.store.GetInviteCode(ctx, *join.ExactMatchCode)
		if err != nil {
			return nil, err
		}
		if code != nil && code.InviterMemberID != nil && *code.InviterMemberID != notification.MemberID {
			inviter = code.InviterMemberID
		}
	}
	err = s.store.CreateLeaveEvent(ctx, &database.LeaveEvent{
		GuildID:         notification.GuildID,
		MemberID:        notification.MemberID,
		CreatedAt:       notification.Timestamp,
		InviterMemberID: inviter,
	})
	if database.IsDuplicateKeyErr(err) {
		return nil, errors.Wrapf(ErrDuplicateEvent,
			"leave of %v from %v at %v already recorded",
			notification.MemberID, notification.GuildID, notification.Timestamp)
	}
	if err != nil {
		return nil, err
	}
	return inviter, nil
}

type Adjustment struct {
	GuildID         string
	MemberID        string
	CreatorMemberID string
	Amount          int
	Reason          string
}

type AdjustResult struct {
	Credit int
	Rank   *database.Rank
}

// Adjust appends a manual moderator correction and recomputes the
// subject's credit.
func (s *Service) Adjust(ctx context.Context, adjustment Adjustment) (*AdjustResult, error) {
	if max := s.opts.MaxAdjustmentAbs; max > 0 {
		if adjustment.Amount > max || adjustment.Amount < -max {
			return nil, errors.Wrapf(ErrAdjustmentOutOfRange, "amount %v exceeds ±%v", adjustment.Amount, max)
		}
	}
	if err := s.checkReferences(ctx, adjustment.GuildID, adjustment.MemberID); err != nil {
		return nil, err
	}
	if err := s.checkMember(ctx, adjustment.CreatorMemberID); err != nil {
		return nil, err
	}

	key := memberKey(adjustment.GuildID, adjustment.MemberID)
	s.locks.Lock(key)
	err := s.store.CreateAdjustment(ctx, &database.CustomInviteAdjustment{
		GuildID:         adjustment.GuildID,
		MemberID:        adjustment.MemberID,
		CreatorMemberID: adjustment.CreatorMemberID,
		Amount:          adjustment.Amount,
		Reason:          adjustment.Reason,
	})
	if err != nil {
		s.locks.Unlock(key)
		return nil, err
	}
	credit, rank, err := s.recomputeLocked(ctx, adjustment.GuildID, adjustment.MemberID)
	s.locks.Unlock(key)
	if err != nil {
		return nil, err
	}
	return &AdjustResult{Credit: credit, Rank: rank}, nil
}

// CreditFor returns the member's current derived credit.
func (s *Service) CreditFor(ctx context.Context, guildID, memberID string) (int, error) {
	return s.store.CreditFor(ctx, guildID, memberID)
}

// RankFor returns the member's current rank, nil when the credit clears
// no configured threshold. Reads never lock and never publish; they may
// trail an in-flight write for the same member by at most one event.
func (s *Service) RankFor(ctx context.Context, guildID, memberID string) (*database.Rank, error) {
	_, rank, err := s.derive(ctx, guildID, memberID)
	return rank, err
}

// Query returns credit and rank in one read.
func (s *Service) Query(ctx context.Context, guildID, memberID string) (int, *database.Rank, error) {
	return s.derive(ctx, guildID, memberID)
}

// recompute serializes on the subject member, re-derives credit and
// rank and notifies the databus.
func (s *Service) recompute(ctx context.Context, guildID, memberID string) (int, *database.Rank, error) {
	key := memberKey(guildID, memberID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)
	return s.recomputeLocked(ctx, guildID, memberID)
}

func (s *Service) recomputeLocked(ctx context.Context, guildID, memberID string) (int, *database.Rank, error) {
	credit, rank, err := s.derive(ctx, guildID, memberID)
	if err != nil {
		return 0, nil, err
	}
	if s.bus != nil {
		var roleID string
		if rank != nil {
			roleID = rank.RoleID
		}
		if err := s.bus.PublishCreditChanged(guildID, memberID, credit, roleID); err != nil {
			// 发布失败不回滚账本，消费方以下一次事件自愈
			log.Error(err)
		}
	}
	return credit, rank, nil
}

func (s *Service) derive(ctx context.Context, guildID, memberID string) (int, *database.Rank, error) {
	credit, err := s.store.CreditFor(ctx, guildID, memberID)
	if err != nil {
		return 0, nil, err
	}
	ranks, err := s.store.ListGuildRanks(ctx, guildID)
	if err != nil {
		return 0, nil, err
	}
	return credit, PickRank(ranks, credit), nil
}

func (s *Service) checkReferences(ctx context.Context, guildID, memberID string) error {
	guild, err := s.store.GetGuild(ctx, guildID)
	if err != nil {
		return err
	}
	if guild == nil {
		return errors.Wrapf(ErrUnknownReference, "guild %v", guildID)
	}
	return s.checkMember(ctx, memberID)
}

func (s *Service) checkMember(ctx context.Context, memberID string) error {
	member, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return err
	}
	if member == nil {
		return errors.Wrapf(ErrUnknownReference, "member %v", memberID)
	}
	return nil
}
