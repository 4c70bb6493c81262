package discord

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/tidwall/gjson"
	"tallybot.io/tally-social/internal/aws"
	"tallybot.io/tally-social/internal/config"
	"tallybot.io/tally-social/internal/ledger"
	"tallybot.io/tally-social/pkg/errors"
	"tallybot.io/tally-social/pkg/log"
)

type memberEventConsumer struct {
	queueURL string
}

func NewMemberEventConsumer() *memberEventConsumer {
	return &memberEventConsumer{}
}

func (c *memberEventConsumer) Apply(conf *config.Configuration) {
	c.queueURL = conf.DiscordBot.MessageQueues.MemberEventQueueURL
}

func (c *memberEventConsumer) Start(ctx context.Context) {
	if c.queueURL == "" {
		log.Warn("Member event queue not configured, consumer disabled")
		return
	}
	aws.Client.NewSQSWorker(ctx, c.queueURL, memberEventQueueHandler)
}

// memberEventQueueHandler consumes member join/leave notifications an
// upstream collector delivers out-of-band, for guilds where the gateway
// session is not the event source. Payload:
//
//	{"type":"join","guild_id":"..","member_id":"..","timestamp":1657..,
//	 "before":{"CODE":{"uses":5,"max_uses":0,"created_at":1657..}},
//	 "after":{...}}
func memberEventQueueHandler(msg *types.Message) (bool, error) {
	if msg.Body == nil {
		return true, nil
	}
	ctx := context.TODO()
	body := *msg.Body
	var (
		eventType = gjson.Get(body, "type").String()
		guildID   = gjson.Get(body, "guild_id").String()
		memberID  = gjson.Get(body, "member_id").String()
		timestamp = time.UnixMilli(gjson.Get(body, "timestamp").Int())
	)
	if guildID == "" || memberID == "" {
		log.Warnf("member event without guild/member dropped: %v", body)
		return true, nil
	}

	var err error
	switch eventType {
	case "join":
		_, err = service.HandleJoin(ctx, ledger.JoinNotification{
			GuildID:   guildID,
			MemberID:  memberID,
			Timestamp: timestamp,
			Before:    parseSnapshot(gjson.Get(body, "before")),
			After:     parseSnapshot(gjson.Get(body, "after")),
		})
	case "leave":
		_, err = service.HandleLeave(ctx, ledger.LeaveNotification{
			GuildID:   guildID,
			MemberID:  memberID,
			Timestamp: timestamp,
		})
	default:
		log.Warnf("unrecognized member event type %v dropped", eventType)
		return true, nil
	}
	if errors.Is(err, ledger.ErrDuplicateEvent) {
		// 重复投递，按已处理删除
		return true, nil
	}
	if errors.Is(err, ledger.ErrUnknownReference) {
		// 引用缺失需上游先补齐，保留消息等待重试
		return false, err
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func parseSnapshot(raw gjson.Result) map[string]ledger.CodeSnapshot {
	if !raw.Exists() {
		return nil
	}
	snapshot := make(map[string]ledger.CodeSnapshot)
	raw.ForEach(func(code, value gjson.Result) bool {
		snapshot[code.String()] = ledger.CodeSnapshot{
			Uses:      int(value.Get("uses").Int()),
			MaxUses:   int(value.Get("max_uses").Int()),
			CreatedAt: time.UnixMilli(value.Get("created_at").Int()),
		}
		return true
	})
	return snapshot
}
