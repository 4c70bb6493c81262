package databus

import (
	"encoding/json"
	"time"

	"tallybot.io/tally-social/pkg/common"
)

const inviteCreditTopic = "invite_credit_changed"

// CreditChangedEvent 邀请积分变更事件，供外部角色分配服务消费.
type CreditChangedEvent struct {
	EventID    string `json:"event_id"`
	GuildID    string `json:"guild_id"`
	MemberID   string `json:"member_id"`
	Credit     int    `json:"credit"`
	RankRoleID string `json:"rank_role_id,omitempty"`
	OccurredAt int64  `json:"occurred_at"`
}

func (e CreditChangedEvent) Serialize() []byte {
	raw, _ := json.Marshal(e)
	return raw
}

func (e CreditChangedEvent) Topic() string {
	return inviteCreditTopic
}

// PublishCreditChanged satisfies the ledger's Publisher.
func (db *DataBus) PublishCreditChanged(guildID, memberID string, credit int, rankRoleID string) error {
	return db.Publish(CreditChangedEvent{
		EventID:    common.NewCutUUIDString(),
		GuildID:    guildID,
		MemberID:   memberID,
		Credit:     credit,
		RankRoleID: rankRoleID,
		OccurredAt: time.Now().UnixMilli(),
	})
}
