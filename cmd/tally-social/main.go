package main

import (
	"context"
	"time"

	"tallybot.io/tally-social/internal/aws"
	"tallybot.io/tally-social/internal/cache"
	"tallybot.io/tally-social/internal/config"
	"tallybot.io/tally-social/internal/database"
	"tallybot.io/tally-social/internal/databus"
	"tallybot.io/tally-social/internal/discord"
	"tallybot.io/tally-social/internal/http"
	"tallybot.io/tally-social/internal/ledger"
	"tallybot.io/tally-social/pkg/errors"
	"tallybot.io/tally-social/pkg/log"
)

func main() {
	log.Infof("Starting app")
	startApp()
}

func startApp() {
	defer func() {
		if i := recover(); i != nil {
			log.Fatal(errors.ErrorfAndReport("%v", i))
		}
	}()
	log.SetLevel(0)
	config.Read()
	if config.Global.LarkAlarmWebhook != "" {
		errors.NewLarkReporter(config.Global.LarkAlarmWebhook, time.Minute)
	}
	if webhook := config.Global.DingTalkAlarm.Webhook; webhook != "" {
		errors.NewDingTalkReporter(webhook, config.Global.DingTalkAlarm.Secret, time.Minute)
	}
	if config.Global.SentryDSN != "" {
		if err := errors.NewSentryReporter(config.Global.SentryDSN); err != nil {
			log.Error(err)
		}
	}
	aws.Init(config.Global.DiscordBot.MessageQueues.Region)
	ctx := context.Background()
	store, err := database.Open(&config.Global.Postgres)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close(ctx)
	databus.InitDataBus(config.Global.KafkaServer)
	cache.Init(&config.Global.RedisCredential)
	defer cache.Close()

	service := ledger.NewService(store, databus.GetDataBus(), ledger.Options{
		MaxAdjustmentAbs: config.Global.InviteLedger.MaxAdjustmentAbs,
		ReconnectWindow:  time.Duration(config.Global.InviteLedger.ReconnectWindowSec) * time.Second,
	})

	go http.NewServer(config.Global.HTTPListen, service, store)
	discord.SetupBot(ctx, &config.Global.DiscordBot, store, service)
}
