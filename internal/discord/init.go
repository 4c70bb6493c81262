package discord

import (
	"context"
	"os"
	"os/signal"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/atomic"
	"tallybot.io/tally-social/internal/config"
	"tallybot.io/tally-social/internal/database"
	"tallybot.io/tally-social/internal/ledger"
	"tallybot.io/tally-social/internal/starter"
	"tallybot.io/tally-social/pkg/errors"
	"tallybot.io/tally-social/pkg/log"
)

var (
	session *discordgo.Session
	store   *database.Store
	service *ledger.Service

	sessionReady atomic.Bool
)

// SetupBot opens the gateway session and blocks until interrupted.
// The store handle and ledger service are injected from main.
func SetupBot(ctx context.Context, bot *config.DiscordBot, db *database.Store, svc *ledger.Service) {
	store = db
	service = svc
	if err := initBotSessionAndHandlers(bot); err != nil {
		log.Fatal(err)
	}
	defer session.Close()
	if err := initOps(ctx); err != nil {
		log.Fatalf("Discord initialization: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop
	log.Infof("Gracefully shutting down")
}

func initBotSessionAndHandlers(bot *config.DiscordBot) error {
	ses, err := discordgo.New("Bot " + bot.AuthToken)
	if err != nil {
		return errors.ErrorfAndReport("create new discord session:%v", err)
	}
	session = ses
	ses.Identify.Intents = discordgo.IntentsAll
	ses.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		sessionReady.Store(true)
		log.Info("Bot is running!")
	})
	ses.AddHandler(guildCreateEventHandler)
	ses.AddHandler(guildDeleteEventHandler)
	ses.AddHandler(guildMemberAddEventHandler)
	ses.AddHandler(guildMemberRemovedEventHandler)
	ses.AddHandler(inviteCreateEventHandler)
	ses.AddHandler(inviteDeleteEventHandler)
	ses.AddHandler(presenceUpdateEventHandler)
	if err := ses.Open(); err != nil {
		return errors.ErrorfAndReport("Cannot open the session: %v", err)
	}
	return nil
}

func initOps(ctx context.Context) error {
	guilds, err := initializeBotGuilds(ctx)
	if err != nil {
		return err
	}
	if err := initializeGuildInvites(ctx, guilds); err != nil {
		return err
	}
	starter.Start(ctx,
		NewInviteSnapshotScheduler(),
		NewMemberEventConsumer(),
	)
	return nil
}

func getBotGuildsFromDiscord() ([]*discordgo.UserGuild, error) {
	var (
		limit       = 100
		total       []*discordgo.UserGuild
		lastGuildID string
	)
	for {
		// 拉取指定id后的工会信息
		guilds, err := session.UserGuilds(limit, "", lastGuildID)
		if err != nil {
			return nil, errors.WrapAndReport(err, "query bot guilds from discord")
		}
		if len(guilds) > 0 {
			lastGuildID = guilds[len(guilds)-1].ID
		}
		total = append(total, guilds...)
		if len(guilds) < limit {
			return total, nil
		}
	}
}
