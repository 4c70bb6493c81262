package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v9"
	"tallybot.io/tally-social/internal/cache"
	"tallybot.io/tally-social/internal/database"
	"tallybot.io/tally-social/internal/ledger"
	"tallybot.io/tally-social/pkg/errors"
	"tallybot.io/tally-social/pkg/log"
	"tallybot.io/tally-social/pkg/log/middleware"
)

// NewServer serves the query and moderation surface of the ledger.
// Blocking, run it in its own goroutine.
func NewServer(listen string, service *ledger.Service, store *database.Store) {
	router := gin.New()
	router.Use(middleware.RecoveredHTTPLog(), middleware.TimeoutHTTP())

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSONP(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/guilds/:guild_id/members/:member_id/invites", queryMemberInvites(service))
	router.GET("/guilds/:guild_id/invites/leaderboard", queryLeaderboard(store))
	router.GET("/guilds/:guild_id/settings/:key", getGuildSetting(store))
	router.PUT("/guilds/:guild_id/settings/:key", putGuildSetting(store))
	router.POST("/guilds/:guild_id/members/:member_id/adjustments", createAdjustment(service))

	if listen == "" {
		listen = ":8080"
	}
	if err := router.Run(listen); err != nil {
		log.Fatal(err)
	}
}

func queryMemberInvites(service *ledger.Service) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		credit, rank, err := service.Query(ctx.Request.Context(), ctx.Param("guild_id"), ctx.Param("member_id"))
		if err != nil {
			ctx.JSONP(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp := gin.H{"credit": credit}
		if rank != nil {
			resp["rank"] = gin.H{
				"role_id":     rank.RoleID,
				"num_invites": rank.NumInvites,
				"description": rank.Description,
			}
		}
		ctx.JSONP(http.StatusOK, resp)
	}
}

func queryLeaderboard(store *database.Store) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "10"))
		offset, _ := strconv.Atoi(ctx.DefaultQuery("offset", "0"))
		if limit <= 0 || limit > 100 {
			limit = 10
		}
		rows, err := store.QueryInviteLeaderboard(ctx.Request.Context(), ctx.Param("guild_id"), limit, offset)
		if err != nil {
			ctx.JSONP(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		entries := make([]gin.H, 0, len(rows))
		for _, row := range rows {
			entries = append(entries, gin.H{
				"inviter_id": row.InviterID,
				"joins":      row.Joins,
				"leaves":     row.Leaves,
				"adjusted":   row.Adjusted,
				"credit":     row.Credit(),
			})
		}
		ctx.JSONP(http.StatusOK, gin.H{"leaderboard": entries})
	}
}

func getGuildSetting(store *database.Store) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		key, err := database.ParseSettingKey(ctx.Param("key"))
		if err != nil {
			ctx.JSONP(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		value, err := store.GetSetting(ctx.Request.Context(), ctx.Param("guild_id"), key)
		if err != nil {
			ctx.JSONP(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		ctx.JSONP(http.StatusOK, gin.H{"key": string(key), "value": value})
	}
}

type settingBody struct {
	Value string `json:"value" binding:"required"`
}

func putGuildSetting(store *database.Store) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		key, err := database.ParseSettingKey(ctx.Param("key"))
		if err != nil {
			ctx.JSONP(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var body settingBody
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSONP(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := store.PutSetting(ctx.Request.Context(), ctx.Param("guild_id"), key, body.Value); err != nil {
			ctx.JSONP(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		ctx.JSONP(http.StatusOK, gin.H{"success": true})
	}
}

type adjustmentBody struct {
	CreatorMemberID string `json:"creator_member_id" binding:"required"`
	Amount          int    `json:"amount"`
	Reason          string `json:"reason"`
}

func createAdjustment(service *ledger.Service) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var body adjustmentBody
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSONP(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if body.Amount == 0 {
			ctx.JSONP(http.StatusBadRequest, gin.H{"error": "adjustment amount must be non-zero"})
			return
		}
		// 单个管理员限频，防止脚本刷分
		if cache.RateLimiter != nil {
			res, err := cache.RateLimiter.Allow(ctx.Request.Context(),
				"invite_adjustment:"+body.CreatorMemberID, redis_rate.PerMinute(30))
			if err != nil {
				log.Error(errors.WrapAndReport(err, "rate limit adjustment"))
			} else if res.Allowed == 0 {
				ctx.JSONP(http.StatusTooManyRequests, gin.H{"error": "too many adjustments"})
				return
			}
		}

		result, err := service.Adjust(ctx.Request.Context(), ledger.Adjustment{
			GuildID:         ctx.Param("guild_id"),
			MemberID:        ctx.Param("member_id"),
			CreatorMemberID: body.CreatorMemberID,
			Amount:          body.Amount,
			Reason:          body.Reason,
		})
		switch {
		case errors.Is(err, ledger.ErrAdjustmentOutOfRange):
			ctx.JSONP(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case errors.Is(err, ledger.ErrUnknownReference):
			ctx.JSONP(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		case err != nil:
			ctx.JSONP(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp := gin.H{"credit": result.Credit}
		if result.Rank != nil {
			resp["rank_role_id"] = result.Rank.RoleID
		}
		ctx.JSONP(http.StatusOK, resp)
	}
}
