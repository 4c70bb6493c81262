package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"tallybot.io/tally-social/internal/database"
	"tallybot.io/tally-social/pkg/errors"
	"tallybot.io/tally-social/pkg/log"
)

func initializeBotGuilds(ctx context.Context) ([]*discordgo.UserGuild, error) {
	log.Info("Initializing bot guilds...")
	defer log.Info("Initializing bot guilds done...")
	guilds, err := getBotGuildsFromDiscord()
	if err != nil {
		return nil, err
	}
	for _, guild := range guilds {
		err := store.UpsertGuild(ctx, &database.Guild{
			ID:   guild.ID,
			Name: guild.Name,
			Icon: guild.Icon,
		})
		if err != nil {
			return nil, err
		}
	}
	return guilds, nil
}

func guildCreateEventHandler(s *discordgo.Session, g *discordgo.GuildCreate) {
	ctx := context.TODO()
	err := store.UpsertGuild(ctx, &database.Guild{
		ID:   g.ID,
		Name: g.Name,
		Icon: g.Icon,
	})
	if err != nil {
		log.Error(err)
		return
	}
	// 新工会落库后立即建立邀请码基线，否则首个加入无法归因
	if err := refreshGuildInvites(ctx, g.ID); err != nil {
		log.Error(err)
	}
}

func guildDeleteEventHandler(s *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		// 网络抖动导致的不可用，非移除
		return
	}
	if err := store.SoftDeleteGuild(context.TODO(), g.ID); err != nil {
		log.Error(errors.WrapfAndReport(err, "soft delete guild %v", g.ID))
	}
}
