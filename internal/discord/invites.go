package discord

import (
	"context"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/fatih/structs"
	"go.uber.org/ratelimit"
	"tallybot.io/tally-social/internal/cache"
	"tallybot.io/tally-social/internal/config"
	"tallybot.io/tally-social/internal/database"
	"tallybot.io/tally-social/internal/ledger"
	"tallybot.io/tally-social/pkg/errors"
	"tallybot.io/tally-social/pkg/log"
)

func newInviteCode(guildID string, inv *discordgo.Invite) *database.InviteCode {
	code := &database.InviteCode{
		Code:      inv.Code,
		GuildID:   guildID,
		MaxAge:    inv.MaxAge,
		MaxUses:   inv.MaxUses,
		Uses:      inv.Uses,
		Temporary: inv.Temporary,
		IsNative:  inv.Inviter == nil,
		CreatedAt: inv.CreatedAt,
	}
	if inv.Channel != nil {
		code.ChannelID = inv.Channel.ID
	}
	if inv.Inviter != nil {
		code.InviterMemberID = &inv.Inviter.ID
	}
	if inv.TargetUser != nil {
		code.TargetMetadata = structs.Map(inv.TargetUser)
	}
	return code
}

func initializeGuildInvites(ctx context.Context, guilds []*discordgo.UserGuild) error {
	log.Info("Initializing guild invites...")
	defer log.Info("Initializing guild invites done...")
	for _, guild := range guilds {
		if err := refreshGuildInvites(ctx, guild.ID); err != nil {
			return err
		}
	}
	return nil
}

// refreshGuildInvites pulls the guild's live invite list, persists it,
// reconciles revoked codes and rewrites the uses cache baseline.
func refreshGuildInvites(ctx context.Context, guildID string) error {
	invites, err := session.GuildInvites(guildID)
	if err != nil {
		return errors.WrapfAndReport(err, "query guild %v invites from discord", guildID)
	}
	codes := make([]*database.InviteCode, 0, len(invites))
	live := make(map[string]bool, len(invites))
	var cacheValues []interface{}
	for _, inv := range invites {
		codes = append(codes, newInviteCode(guildID, inv))
		live[inv.Code] = true
		cacheValues = append(cacheValues, inv.Code, inv.Uses)
	}
	if err := store.SaveInviteCodes(ctx, codes); err != nil {
		return err
	}
	// 平台已撤销但本地仍存活的邀请码，补软删除
	tracked, err := store.ListGuildInviteCodes(ctx, guildID)
	if err != nil {
		return err
	}
	for _, code := range tracked {
		if code.DeletedAt == nil && !live[code.Code] {
			if err := store.SoftDeleteInviteCode(ctx, code.Code); err != nil {
				return err
			}
		}
	}
	if len(cacheValues) == 0 {
		return nil
	}
	err = cache.Redis.HMSet(ctx, cache.GuildInvitesKey(guildID), cacheValues...).Err()
	return errors.WrapAndReport(err, "cache guild invites record")
}

// captureSnapshotPair builds the before/after code snapshots around a
// join: before from the cached baseline, after from a fresh fetch. The
// fresh state immediately becomes the next baseline.
func captureSnapshotPair(ctx context.Context, guildID string) (before, after map[string]ledger.CodeSnapshot, err error) {
	cached, err := cache.Redis.HGetAll(ctx, cache.GuildInvitesKey(guildID)).Result()
	if err != nil {
		return nil, nil, errors.WrapAndReport(err, "query cached guild invites")
	}
	invites, err := session.GuildInvites(guildID)
	if err != nil {
		return nil, nil, errors.WrapfAndReport(err, "query guild %v invites from discord", guildID)
	}
	// createdAt/maxUses取自库内记录，撤销的码也仍在库里
	tracked, err := store.ListGuildInviteCodes(ctx, guildID)
	if err != nil {
		return nil, nil, err
	}
	meta := make(map[string]*database.InviteCode, len(tracked))
	for _, code := range tracked {
		meta[code.Code] = code
	}

	after = make(map[string]ledger.CodeSnapshot, len(invites))
	var cacheValues []interface{}
	for _, inv := range invites {
		after[inv.Code] = ledger.CodeSnapshot{
			Uses:      inv.Uses,
			MaxUses:   inv.MaxUses,
			CreatedAt: inv.CreatedAt,
		}
		cacheValues = append(cacheValues, inv.Code, inv.Uses)
	}
	before = make(map[string]ledger.CodeSnapshot, len(cached))
	for code, raw := range cached {
		uses, err := strconv.Atoi(raw)
		if err != nil {
			log.Errorf("guild %v invite %v cache value not int", guildID, code)
			continue
		}
		snapshot := ledger.CodeSnapshot{Uses: uses}
		if m := meta[code]; m != nil {
			snapshot.MaxUses = m.MaxUses
			snapshot.CreatedAt = m.CreatedAt
		} else if a, ok := after[code]; ok {
			snapshot.MaxUses = a.MaxUses
			snapshot.CreatedAt = a.CreatedAt
		}
		before[code] = snapshot
	}

	if len(cacheValues) > 0 {
		if err := cache.Redis.HMSet(ctx, cache.GuildInvitesKey(guildID), cacheValues...).Err(); err != nil {
			log.Error(errors.WrapAndReport(err, "cache guild invites record"))
		}
	}
	codes := make([]*database.InviteCode, 0, len(invites))
	for _, inv := range invites {
		codes = append(codes, newInviteCode(guildID, inv))
	}
	if err := store.SaveInviteCodes(ctx, codes); err != nil {
		log.Error(err)
	}
	return before, after, nil
}

func inviteCreateEventHandler(s *discordgo.Session, e *discordgo.InviteCreate) {
	ctx := context.TODO()
	code := &database.InviteCode{
		Code:      e.Code,
		GuildID:   e.GuildID,
		ChannelID: e.ChannelID,
		MaxAge:    e.MaxAge,
		MaxUses:   e.MaxUses,
		Uses:      e.Uses,
		Temporary: e.Temporary,
		IsNative:  e.Inviter == nil,
		CreatedAt: e.CreatedAt,
	}
	if e.Inviter != nil {
		code.InviterMemberID = &e.Inviter.ID
	}
	if err := store.SaveInviteCodes(ctx, []*database.InviteCode{code}); err != nil {
		log.Error(err)
		return
	}
	err := cache.Redis.HSet(ctx, cache.GuildInvitesKey(e.GuildID), e.Code, e.Uses).Err()
	if err != nil {
		log.Error(errors.WrapAndReport(err, "cache created invite"))
	}
}

func inviteDeleteEventHandler(s *discordgo.Session, e *discordgo.InviteDelete) {
	// 缓存里保留该码的基线计数：撤销与加入同时发生时，
	// resolver仍需凭before快照识别被用尽的码
	if err := store.SoftDeleteInviteCode(context.TODO(), e.Code); err != nil {
		log.Error(err)
	}
}

const overwriteInvitesLockKey = "overwrite_guild_invites_interval"

type inviteSnapshotScheduler struct {
	interval time.Duration
}

func NewInviteSnapshotScheduler() *inviteSnapshotScheduler {
	return &inviteSnapshotScheduler{}
}

func (s *inviteSnapshotScheduler) Apply(conf *config.Configuration) {
	s.interval = time.Duration(conf.InviteLedger.PollIntervalMin) * time.Minute
	if s.interval <= 0 {
		s.interval = time.Minute * 30
	}
}

func (s *inviteSnapshotScheduler) Start(ctx context.Context) {
	go s.overwriteGuildInvites(ctx)
}

func (s *inviteSnapshotScheduler) overwriteGuildInvites(ctx context.Context) {
	// 限速避免对平台API的突发拉取
	limiter := ratelimit.New(2)
	ticker := time.NewTicker(s.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !sessionReady.Load() {
			continue
		}
		locked, err := cache.Redis.SetNX(ctx, overwriteInvitesLockKey, 1, s.interval/2).Result()
		if err != nil {
			log.Error(errors.WrapAndReport(err, "set overwrite guild invites interval"))
			continue
		}
		if !locked {
			continue
		}
		guilds, err := getBotGuildsFromDiscord()
		if err != nil {
			log.Error(err)
			continue
		}
		for _, guild := range guilds {
			limiter.Take()
			if err := refreshGuildInvites(ctx, guild.ID); err != nil {
				log.Error(err)
			}
		}
	}
}
