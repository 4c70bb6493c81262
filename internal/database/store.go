package database

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
	"tallybot.io/tally-social/internal/config"
	"tallybot.io/tally-social/pkg/errors"
	"tallybot.io/tally-social/pkg/log"
)

// Store is the handle to the invite ledger storage. It is constructed
// once by Open and passed down explicitly, there is no package level
// connection.
type Store struct {
	db   *gorm.DB
	node *snowflake.Node
}

func Open(conf *config.DBCredential) (*Store, error) {
	cli, err := gorm.Open(postgres.Open(conf.Dsn()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: "tally.",
		},
	})
	if err != nil {
		return nil, errors.WrapAndReport(err, "connect to pg")
	}
	db, err := cli.DB()
	if err != nil {
		return nil, errors.WrapAndReport(err, "get pg conn")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.WrapAndReport(err, "ping to pg")
	}
	log.Info("Connected to tally postgres...")

	err = cli.AutoMigrate(
		&Guild{},
		&Member{},
		&InviteCode{},
		&JoinEvent{},
		&LeaveEvent{},
		&CustomInviteAdjustment{},
		&Rank{},
		&PresenceSample{},
		&Setting{},
	)
	if err != nil {
		return nil, errors.WrapAndReport(err, "autoMigrate tables")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, errors.WrapAndReport(err, "create snowflake node")
	}
	return &Store{db: cli, node: node}, nil
}

func (s *Store) Close(ctx context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return errors.WrapAndReport(err, "get pg conn")
	}
	return errors.WrapAndReport(db.Close(), "close pg conn")
}

// NextID returns a fresh surrogate id for event rows.
func (s *Store) NextID() int64 {
	return s.node.Generate().Int64()
}
