package cache

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"tallybot.io/tally-social/internal/config"
	"tallybot.io/tally-social/pkg/log"
)

var (
	Redis       *redis.Client
	RateLimiter *redis_rate.Limiter
)

func Init(cred *config.DBCredential) {
	db, _ := strconv.ParseInt(cred.Database, 10, 64)
	Redis = redis.NewClient(&redis.Options{
		Addr: cred.GetRedisAddress(),
		DB:   int(db),
	})
	if _, err := Redis.Ping(context.TODO()).Result(); err != nil {
		log.Fatalf("ping to redis:%v", err)
	}
	RateLimiter = redis_rate.NewLimiter(Redis)
}

func Close() {
	if Redis != nil {
		Redis.Close()
		Redis = nil
	}
}

const guildInvitesCacheKeyPrefix = "guild_invites:"

// GuildInvitesKey is the per-guild hash of code => last observed uses,
// the "before" side of every snapshot pair.
func GuildInvitesKey(guildID string) string {
	return fmt.Sprintf("%v%v", guildInvitesCacheKeyPrefix, guildID)
}
