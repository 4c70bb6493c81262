package ledger

// JoinRecord is one attributed join as the credit formula sees it:
// who arrived and which member's code absorbed the arrival, if any.
type JoinRecord struct {
	MemberID  string
	InviterID *string
}

// LeaveRecord reverses the denormalized inviter captured at join time.
type LeaveRecord struct {
	InviterID *string
}

type AdjustmentRecord struct {
	MemberID string
	Amount   int
}

// EventLog 某成员积分相关的不可变事件序列.
type EventLog struct {
	Joins       []JoinRecord
	Leaves      []LeaveRecord
	Adjustments []AdjustmentRecord
}

// Compute derives the member's invite credit from the event log:
// one per join their code absorbed (self-invites excluded), minus one
// per invited member who later left, plus manual adjustments.
//
// Credit is a pure function of the log. Replaying it, in any order that
// keeps per-member causality, lands on the same value, which is what
// makes recomputation after crash recovery safe.
func Compute(log EventLog, memberID string) int {
	var credit int
	for _, join := range log.Joins {
		if join.InviterID == nil || *join.InviterID != memberID {
			continue
		}
		if join.MemberID == memberID {
			// 自邀不计分
			continue
		}
		credit++
	}
	for _, leave := range log.Leaves {
		if leave.InviterID != nil && *leave.InviterID == memberID {
			credit--
		}
	}
	for _, adjustment := range log.Adjustments {
		if adjustment.MemberID == memberID {
			credit += adjustment.Amount
		}
	}
	return credit
}
