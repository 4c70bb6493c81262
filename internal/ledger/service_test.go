package ledger

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tallybot.io/tally-social/internal/database"
	"tallybot.io/tally-social/pkg/errors"
)

// fakeStore keeps the event log in memory and derives credit the same
// way the SQL aggregate does.
type fakeStore struct {
	mu          sync.Mutex
	guilds      map[string]*database.Guild
	members     map[string]*database.Member
	codes       map[string]*database.InviteCode
	joins       []*database.JoinEvent
	leaves      []*database.LeaveEvent
	adjustments []*database.CustomInviteAdjustment
	ranks       []*database.Rank
	presences   []*database.PresenceSample
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		guilds:  make(map[string]*database.Guild),
		members: make(map[string]*database.Member),
		codes:   make(map[string]*database.InviteCode),
	}
}

func (f *fakeStore) GetGuild(_ context.Context, guildID string) (*database.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.guilds[guildID], nil
}

func (f *fakeStore) GetMember(_ context.Context, memberID string) (*database.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[memberID], nil
}

func (f *fakeStore) GetInviteCode(_ context.Context, code string) (*database.InviteCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codes[code], nil
}

func (f *fakeStore) CreateJoinEvent(_ context.Context, event *database.JoinEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.joins {
		if existing.GuildID == event.GuildID && existing.MemberID == event.MemberID &&
			existing.CreatedAt.Equal(event.CreatedAt) {
			return errors.New(`ERROR: duplicate key value violates unique constraint "uni_join"`)
		}
	}
	f.joins = append(f.joins, event)
	return nil
}

func (f *fakeStore) LatestUnreversedJoin(_ context.Context, guildID, memberID string) (*database.JoinEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var lastLeave time.Time
	for _, leave := range f.leaves {
		if leave.GuildID == guildID && leave.MemberID == memberID && leave.CreatedAt.After(lastLeave) {
			lastLeave = leave.CreatedAt
		}
	}
	var latest *database.JoinEvent
	for _, join := range f.joins {
		if join.GuildID != guildID || join.MemberID != memberID || !join.CreatedAt.After(lastLeave) {
			continue
		}
		if latest == nil || join.CreatedAt.After(latest.CreatedAt) {
			latest = join
		}
	}
	return latest, nil
}

func (f *fakeStore) CreateLeaveEvent(_ context.Context, event *database.LeaveEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.leaves {
		if existing.GuildID == event.GuildID && existing.MemberID == event.MemberID &&
			existing.CreatedAt.Equal(event.CreatedAt) {
			return errors.New(`ERROR: duplicate key value violates unique constraint "uni_leave"`)
		}
	}
	f.leaves = append(f.leaves, event)
	return nil
}

func (f *fakeStore) CreateAdjustment(_ context.Context, adjustment *database.CustomInviteAdjustment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adjustments = append(f.adjustments, adjustment)
	return nil
}

func (f *fakeStore) CreditFor(_ context.Context, guildID, memberID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	log := EventLog{}
	for _, join := range f.joins {
		if join.GuildID != guildID || join.ExactMatchCode == nil {
			continue
		}
		code := f.codes[*join.ExactMatchCode]
		if code == nil {
			continue
		}
		log.Joins = append(log.Joins, JoinRecord{MemberID: join.MemberID, InviterID: code.InviterMemberID})
	}
	for _, leave := range f.leaves {
		if leave.GuildID == guildID {
			log.Leaves = append(log.Leaves, LeaveRecord{InviterID: leave.InviterMemberID})
		}
	}
	for _, adjustment := range f.adjustments {
		if adjustment.GuildID == guildID {
			log.Adjustments = append(log.Adjustments,
				AdjustmentRecord{MemberID: adjustment.MemberID, Amount: adjustment.Amount})
		}
	}
	return Compute(log, memberID), nil
}

func (f *fakeStore) ListGuildRanks(_ context.Context, guildID string) ([]*database.Rank, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ranks []*database.Rank
	for _, rank := range f.ranks {
		if rank.GuildID == guildID {
			ranks = append(ranks, rank)
		}
	}
	return ranks, nil
}

func (f *fakeStore) LatestPresence(_ context.Context, guildID, memberID string) (*database.PresenceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *database.PresenceSample
	for _, sample := range f.presences {
		if sample.GuildID != guildID || sample.MemberID != memberID {
			continue
		}
		if latest == nil || sample.CreatedAt.After(latest.CreatedAt) {
			latest = sample
		}
	}
	return latest, nil
}

type fakeBus struct {
	mu        sync.Mutex
	published []string
}

func (f *fakeBus) PublishCreditChanged(guildID, memberID string, credit int, rankRoleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, memberID)
	return nil
}

func seedGuild(store *fakeStore, guildID string, memberIDs ...string) {
	store.guilds[guildID] = &database.Guild{ID: guildID, Name: "guild " + guildID}
	for _, memberID := range memberIDs {
		store.members[memberID] = &database.Member{ID: memberID}
	}
}

func seedCode(store *fakeStore, guildID, code string, inviterID *string) {
	store.codes[code] = &database.InviteCode{
		Code:            code,
		GuildID:         guildID,
		InviterMemberID: inviterID,
		IsNative:        inviterID == nil,
	}
}

func joinNotification(guildID, memberID string, at time.Time, code string, beforeUses int) JoinNotification {
	created := at.Add(-time.Hour)
	return JoinNotification{
		GuildID:   guildID,
		MemberID:  memberID,
		Timestamp: at,
		Before:    map[string]CodeSnapshot{code: {Uses: beforeUses, CreatedAt: created}},
		After:     map[string]CodeSnapshot{code: {Uses: beforeUses + 1, CreatedAt: created}},
	}
}

func TestHandleJoinResolvedEarnsCredit(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	seedGuild(store, "g1", "alice", "newcomer")
	seedCode(store, "g1", "alpha", inviter("alice"))
	service := NewService(store, bus, Options{})

	result, err := service.HandleJoin(context.Background(),
		joinNotification("g1", "newcomer", time.Now(), "alpha", 5))
	require.NoError(t, err)
	assert.Equal(t, AttributionResolved, result.Attribution.Kind)
	assert.Equal(t, "alice", result.InviterID)
	assert.Equal(t, 1, result.Credit)
	assert.Equal(t, []string{"alice"}, bus.published)
}

func TestHandleJoinDuplicateDelivery(t *testing.T) {
	store := newFakeStore()
	seedGuild(store, "g1", "alice", "newcomer")
	seedCode(store, "g1", "alpha", inviter("alice"))
	service := NewService(store, nil, Options{})

	at := time.Now()
	_, err := service.HandleJoin(context.Background(), joinNotification("g1", "newcomer", at, "alpha", 5))
	require.NoError(t, err)
	_, err = service.HandleJoin(context.Background(), joinNotification("g1", "newcomer", at, "alpha", 5))
	assert.True(t, errors.Is(err, ErrDuplicateEvent))

	credit, err := service.CreditFor(context.Background(), "g1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, credit)
}

func TestHandleJoinUnknownGuild(t *testing.T) {
	store := newFakeStore()
	service := NewService(store, nil, Options{})
	_, err := service.HandleJoin(context.Background(),
		joinNotification("ghost", "nobody", time.Now(), "alpha", 0))
	assert.True(t, errors.Is(err, ErrUnknownReference))
}

func TestHandleJoinUntrackedCode(t *testing.T) {
	store := newFakeStore()
	seedGuild(store, "g1", "newcomer")
	service := NewService(store, nil, Options{})
	_, err := service.HandleJoin(context.Background(),
		joinNotification("g1", "newcomer", time.Now(), "phantom", 0))
	assert.True(t, errors.Is(err, ErrUnknownReference))
}

func TestHandleJoinSelfInvite(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	seedGuild(store, "g1", "alice")
	seedCode(store, "g1", "alpha", inviter("alice"))
	service := NewService(store, bus, Options{})

	result, err := service.HandleJoin(context.Background(),
		joinNotification("g1", "alice", time.Now(), "alpha", 0))
	require.NoError(t, err)
	assert.Equal(t, AttributionResolved, result.Attribution.Kind)
	assert.Empty(t, result.InviterID)
	assert.Empty(t, bus.published)

	credit, err := service.CreditFor(context.Background(), "g1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, credit)
}

func TestHandleJoinNativeInvite(t *testing.T) {
	store := newFakeStore()
	seedGuild(store, "g1", "newcomer")
	seedCode(store, "g1", "vanity", nil)
	service := NewService(store, nil, Options{})

	result, err := service.HandleJoin(context.Background(),
		joinNotification("g1", "newcomer", time.Now(), "vanity", 9))
	require.NoError(t, err)
	assert.Equal(t, AttributionResolved, result.Attribution.Kind)
	assert.Empty(t, result.InviterID)
}

func TestHandleLeaveReversesCredit(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	seedGuild(store, "g1", "alice", "newcomer")
	seedCode(store, "g1", "alpha", inviter("alice"))
	service := NewService(store, bus, Options{})

	at := time.Now()
	_, err := service.HandleJoin(context.Background(), joinNotification("g1", "newcomer", at, "alpha", 5))
	require.NoError(t, err)

	result, err := service.HandleLeave(context.Background(), LeaveNotification{
		GuildID: "g1", MemberID: "newcomer", Timestamp: at.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", result.InviterID)
	assert.Equal(t, 0, result.Credit)

	// 再来一轮，积分可以重新挣回
	_, err = service.HandleJoin(context.Background(),
		joinNotification("g1", "newcomer", at.Add(2*time.Hour), "alpha", 6))
	require.NoError(t, err)
	credit, err := service.CreditFor(context.Background(), "g1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, credit)
}

func TestHandleLeaveWithoutAttribution(t *testing.T) {
	store := newFakeStore()
	seedGuild(store, "g1", "drifter")
	service := NewService(store, nil, Options{})

	result, err := service.HandleLeave(context.Background(), LeaveNotification{
		GuildID: "g1", MemberID: "drifter", Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.Empty(t, result.InviterID)
}

func TestHandleJoinReconnectNoise(t *testing.T) {
	store := newFakeStore()
	seedGuild(store, "g1", "alice", "newcomer")
	seedCode(store, "g1", "alpha", inviter("alice"))
	service := NewService(store, nil, Options{ReconnectWindow: time.Minute})

	at := time.Now().Add(-time.Second)
	_, err := service.HandleJoin(context.Background(), joinNotification("g1", "newcomer", at, "alpha", 5))
	require.NoError(t, err)
	store.presences = append(store.presences, &database.PresenceSample{
		GuildID: "g1", MemberID: "newcomer", Status: database.PresenceOnline, CreatedAt: time.Now(),
	})

	_, err = service.HandleJoin(context.Background(),
		joinNotification("g1", "newcomer", time.Now(), "alpha", 6))
	assert.True(t, errors.Is(err, ErrDuplicateEvent))
}

func TestAdjust(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	seedGuild(store, "g1", "alice", "mod")
	service := NewService(store, bus, Options{MaxAdjustmentAbs: 100})

	result, err := service.Adjust(context.Background(), Adjustment{
		GuildID: "g1", MemberID: "alice", CreatorMemberID: "mod", Amount: 3, Reason: "event prize",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Credit)
	assert.Equal(t, []string{"alice"}, bus.published)

	_, err = service.Adjust(context.Background(), Adjustment{
		GuildID: "g1", MemberID: "alice", CreatorMemberID: "mod", Amount: 101,
	})
	assert.True(t, errors.Is(err, ErrAdjustmentOutOfRange))
	_, err = service.Adjust(context.Background(), Adjustment{
		GuildID: "g1", MemberID: "alice", CreatorMemberID: "mod", Amount: -101,
	})
	assert.True(t, errors.Is(err, ErrAdjustmentOutOfRange))

	_, err = service.Adjust(context.Background(), Adjustment{
		GuildID: "g1", MemberID: "alice", CreatorMemberID: "ghost", Amount: 1,
	})
	assert.True(t, errors.Is(err, ErrUnknownReference))
}

func TestQueryDerivesRank(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	seedGuild(store, "g1", "alice", "mod")
	store.ranks = []*database.Rank{
		{GuildID: "g1", RoleID: "r0", NumInvites: 0},
		{GuildID: "g1", RoleID: "r5", NumInvites: 5},
		{GuildID: "g1", RoleID: "r10", NumInvites: 10},
	}
	service := NewService(store, bus, Options{})

	_, err := service.Adjust(context.Background(), Adjustment{
		GuildID: "g1", MemberID: "alice", CreatorMemberID: "mod", Amount: 7,
	})
	require.NoError(t, err)
	published := len(bus.published)

	credit, rank, err := service.Query(context.Background(), "g1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 7, credit)
	require.NotNil(t, rank)
	assert.Equal(t, "r5", rank.RoleID)
	// 纯查询不对外发布
	assert.Equal(t, published, len(bus.published))
}

func TestConcurrentJoinsForSameInviter(t *testing.T) {
	store := newFakeStore()
	seedGuild(store, "g1", "alice")
	seedCode(store, "g1", "alpha", inviter("alice"))
	service := NewService(store, nil, Options{})

	const n = 8
	base := time.Now()
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		memberID := string(rune('a'+i)) + "-member"
		store.members[memberID] = &database.Member{ID: memberID}
	}
	for i := 0; i < n; i++ {
		memberID := string(rune('a'+i)) + "-member"
		at := base.Add(time.Duration(i) * time.Second)
		uses := i
		go func(memberID string, at time.Time, uses int) {
			_, err := service.HandleJoin(context.Background(),
				joinNotification("g1", memberID, at, "alpha", uses))
			done <- err
		}(memberID, at, uses)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-done)
	}

	credit, err := service.CreditFor(context.Background(), "g1", "alice")
	require.NoError(t, err)
	assert.Equal(t, n, credit)

	var memberIDs []string
	for _, join := range store.joins {
		memberIDs = append(memberIDs, join.MemberID)
	}
	sort.Strings(memberIDs)
	require.Len(t, memberIDs, n)
	for i, memberID := range memberIDs {
		assert.Equal(t, string(rune('a'+i))+"-member", memberID)
	}
}
