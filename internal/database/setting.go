package database

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"tallybot.io/tally-social/pkg/errors"
)

// SettingKey is the closed set of recognized per-guild settings.
// Free strings are rejected at the boundary by ParseSettingKey.
type SettingKey string

const (
	SettingPrefix             = SettingKey("prefix")
	SettingJoinMessageChannel = SettingKey("joinMessageChannel")
	SettingLang               = SettingKey("lang")
	SettingModRole            = SettingKey("modRole")
	SettingModChannel         = SettingKey("modChannel")
)

var settingDefaults = map[SettingKey]string{
	SettingPrefix: "!",
	SettingLang:   "en",
}

var ErrUnknownSettingKey = errors.New("unknown setting key")

func ParseSettingKey(raw string) (SettingKey, error) {
	switch key := SettingKey(raw); key {
	case SettingPrefix, SettingJoinMessageChannel, SettingLang, SettingModRole, SettingModChannel:
		return key, nil
	default:
		return "", errors.Wrapf(ErrUnknownSettingKey, "%q", raw)
	}
}

// DefaultSettingValue returns the fallback for keys absent from storage.
func DefaultSettingValue(key SettingKey) string {
	return settingDefaults[key]
}

// Setting 工会级键值配置，每个(guild_id, key)唯一.
type Setting struct {
	ID        int64  `gorm:"primaryKey"`
	GuildID   string `gorm:"type:varchar(100);uniqueIndex:uni_setting"`
	Key       string `gorm:"type:varchar(50);uniqueIndex:uni_setting"`
	Value     string `gorm:"type:varchar(500)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GetSetting returns the stored value or the key's default when unset.
func (s *Store) GetSetting(ctx context.Context, guildID string, key SettingKey) (string, error) {
	var setting Setting
	err := s.db.WithContext(ctx).Where("guild_id = ? AND key = ?", guildID, string(key)).
		First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultSettingValue(key), nil
	}
	if err != nil {
		return "", errors.WrapAndReport(err, "query guild setting")
	}
	return setting.Value, nil
}

func (s *Store) PutSetting(ctx context.Context, guildID string, key SettingKey, value string) error {
	setting := &Setting{
		ID:      s.NextID(),
		GuildID: guildID,
		Key:     string(key),
		Value:   value,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "guild_id"}, {Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      value,
			"updated_at": time.Now(),
		}),
	}).Create(setting).Error
	return errors.WrapAndReport(err, "put guild setting")
}
