package common

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// discord snowflake epoch, milliseconds.
const discordEpoch = 1420070400000

//NewCutUUIDString returns uuid string that cut `-`.
func NewCutUUIDString() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

//DecodeTimeInSnowflake decodes the creation time carried in a discord snowflake id.
func DecodeTimeInSnowflake(id string) *time.Time {
	snowflake.Epoch = discordEpoch
	sid, err := snowflake.ParseString(id)
	if err != nil {
		log.Errorf("parse snowflake id %v:%v", id, err)
		return nil
	}
	ms := sid.Time()
	t := time.Unix(0, ms*int64(time.Millisecond))
	return &t
}
