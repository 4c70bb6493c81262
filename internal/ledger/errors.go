package ledger

import "tallybot.io/tally-social/pkg/errors"

var (
	// ErrDuplicateEvent 事件重复投递，调用方可安全忽略重试
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrUnknownReference 引用的工会/成员/邀请码不存在，由事件源先行创建
	ErrUnknownReference = errors.New("unknown reference")
	// ErrAdjustmentOutOfRange 人工修正超出配置的上限
	ErrAdjustmentOutOfRange = errors.New("adjustment amount out of range")
)
