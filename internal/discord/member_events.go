package discord

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"tallybot.io/tally-social/internal/database"
	"tallybot.io/tally-social/internal/ledger"
	"tallybot.io/tally-social/pkg/common"
	"tallybot.io/tally-social/pkg/errors"
	"tallybot.io/tally-social/pkg/log"
)

func guildMemberAddEventHandler(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.User == nil || m.User.Bot {
		return
	}
	ctx := context.TODO()
	if err := store.UpsertMember(ctx, &database.Member{
		ID:   m.User.ID,
		Name: m.User.Username,
	}); err != nil {
		log.Error(err)
		return
	}
	if registered := common.DecodeTimeInSnowflake(m.User.ID); registered != nil &&
		time.Since(*registered) < time.Hour*24 {
		log.Warnf("member %v joining guild %v registered %v ago",
			m.User.ID, m.GuildID, time.Since(*registered).Round(time.Minute))
	}

	before, after, err := captureSnapshotPair(ctx, m.GuildID)
	if err != nil {
		log.Error(err)
		before, after = nil, nil
	}
	result, err := service.HandleJoin(ctx, ledger.JoinNotification{
		GuildID:   m.GuildID,
		MemberID:  m.User.ID,
		Timestamp: m.JoinedAt,
		Before:    before,
		After:     after,
	})
	if errors.Is(err, ledger.ErrDuplicateEvent) {
		log.Debugf("duplicate join of %v to guild %v dropped", m.User.ID, m.GuildID)
		return
	}
	if err != nil {
		log.Error(err)
		return
	}
	switch result.Attribution.Kind {
	case ledger.AttributionResolved:
		log.Infof("Discord invite matched: code %v, invitee %v, inviter %v credit %v",
			result.Attribution.Code, m.User.ID, result.InviterID, result.Credit)
	case ledger.AttributionAmbiguous:
		log.Warnf("ambiguous join of %v to guild %v, candidates %v",
			m.User.ID, m.GuildID, result.Attribution.Candidates)
	default:
		log.Infof("unattributed join of %v to guild %v", m.User.ID, m.GuildID)
	}
}

func guildMemberRemovedEventHandler(s *discordgo.Session, m *discordgo.GuildMemberRemove) {
	if m.User == nil || m.User.Bot {
		return
	}
	ctx := context.TODO()
	result, err := service.HandleLeave(ctx, ledger.LeaveNotification{
		GuildID:   m.GuildID,
		MemberID:  m.User.ID,
		Timestamp: time.Now(),
	})
	if errors.Is(err, ledger.ErrDuplicateEvent) {
		return
	}
	if err != nil {
		log.Error(err)
		return
	}
	if result.InviterID != "" {
		log.Infof("member %v left guild %v, inviter %v credit now %v",
			m.User.ID, m.GuildID, result.InviterID, result.Credit)
	}
}

func presenceUpdateEventHandler(s *discordgo.Session, p *discordgo.PresenceUpdate) {
	if p.User == nil {
		return
	}
	status := database.PresenceOffline
	if p.Status != discordgo.StatusOffline {
		status = database.PresenceOnline
	}
	err := store.CreatePresenceSample(context.TODO(), &database.PresenceSample{
		GuildID:  p.GuildID,
		MemberID: p.User.ID,
		Status:   status,
	})
	if err != nil {
		log.Error(err)
	}
}
