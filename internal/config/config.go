package config

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// DBCredential struct
type DBCredential struct {
	Address  string `yaml:"address"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
}

func (c *DBCredential) Dsn() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s",
		c.Address, c.Port, c.User, c.Password, c.Database)
}

// GetRedisAddress prints redis credential info.
func (c *DBCredential) GetRedisAddress() string {
	return fmt.Sprintf("%v:%v", c.Address, c.Port)
}

// Configuration struct
type Configuration struct {
	RedisCredential  DBCredential `yaml:"redis"`
	Postgres         DBCredential `yaml:"postgres"`
	DiscordBot       DiscordBot   `yaml:"discord_bot"`
	KafkaServer      string       `yaml:"kafka-server"`
	LarkAlarmWebhook string       `yaml:"lark_alarm_webhook"`
	DingTalkAlarm    DingTalk     `yaml:"dingtalk_alarm"`
	SentryDSN        string       `yaml:"sentry_dsn"`
	HTTPListen       string       `yaml:"http_listen"`
	InviteLedger     InviteLedger `yaml:"invite_ledger"`
}

type DiscordBot struct {
	AppID         string        `yaml:"app_id"`
	AuthToken     string        `yaml:"auth_token"`
	MessageQueues MessageQueues `yaml:"message_queues"`
}

func (in DiscordBot) IsMe(appID string) bool {
	return in.AppID == appID
}

type MessageQueues struct {
	// 成员加入/退出通知队列，由上游采集器投递
	MemberEventQueueURL string `yaml:"member_event_queue_url"`
	Region              string `yaml:"region"`
}

type DingTalk struct {
	Webhook string `yaml:"webhook"`
	Secret  string `yaml:"secret"`
}

type InviteLedger struct {
	// 邀请列表快照轮询间隔，分钟
	PollIntervalMin int `yaml:"poll_interval_min"`
	// 人工调整的上限，零值表示不限制
	MaxAdjustmentAbs int `yaml:"max_adjustment_abs"`
	// 重连噪音窗口，秒。该窗口内在线的成员重复加入不计为新加入
	ReconnectWindowSec int `yaml:"reconnect_window_sec"`
}

func readConfig(path string) (Configuration, error) {
	logrus.Info("Starting to load configuration file ...")
	dat, err := ioutil.ReadFile(path)
	if err != nil {
		logrus.Fatal(err)
	}
	t := Configuration{}
	err = yaml.Unmarshal(dat, &t)

	if err != nil {
		if os.IsNotExist(err) {
			logrus.Fatalf("file %s does not exist", path)
		} else {
			logrus.Fatalf("fail to decode config error: %v", err)
		}
	}
	return t, nil
}

var Global *Configuration

// Read reads configuration information from yml.
func Read() {
	configFilePath := flag.String("config-path", "internal/config/config.yml", "The path to the configuration file")
	flag.Parse()
	logrus.Infof("Loading configuration file from %s", *configFilePath)
	globalConfig, err := readConfig(*configFilePath)
	if err != nil {
		logrus.Fatal(err)
	}
	Global = &globalConfig
}
