package ledger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func inviter(id string) *string {
	return &id
}

func TestComputeJoinsMinusLeaves(t *testing.T) {
	log := EventLog{
		Joins: []JoinRecord{
			{MemberID: "m1", InviterID: inviter("alice")},
			{MemberID: "m2", InviterID: inviter("alice")},
			{MemberID: "m3", InviterID: inviter("alice")},
		},
		Leaves: []LeaveRecord{
			{InviterID: inviter("alice")},
		},
	}
	assert.Equal(t, 2, Compute(log, "alice"))
}

func TestComputeAdjustments(t *testing.T) {
	log := EventLog{
		Joins: []JoinRecord{
			{MemberID: "m1", InviterID: inviter("alice")},
			{MemberID: "m2", InviterID: inviter("alice")},
		},
		Adjustments: []AdjustmentRecord{
			{MemberID: "alice", Amount: -1},
		},
	}
	assert.Equal(t, 1, Compute(log, "alice"))

	log.Adjustments = append(log.Adjustments,
		AdjustmentRecord{MemberID: "alice", Amount: 5},
		AdjustmentRecord{MemberID: "alice", Amount: -5},
	)
	// 相反修正互相抵消
	assert.Equal(t, 1, Compute(log, "alice"))
}

func TestComputeSelfInviteExcluded(t *testing.T) {
	log := EventLog{
		Joins: []JoinRecord{
			{MemberID: "alice", InviterID: inviter("alice")},
			{MemberID: "m1", InviterID: inviter("alice")},
		},
	}
	assert.Equal(t, 1, Compute(log, "alice"))
}

func TestComputeUnattributedJoinsIgnored(t *testing.T) {
	log := EventLog{
		Joins: []JoinRecord{
			{MemberID: "m1", InviterID: nil},
			{MemberID: "m2", InviterID: inviter("bob")},
		},
		Leaves: []LeaveRecord{
			{InviterID: nil},
		},
	}
	assert.Equal(t, 0, Compute(log, "alice"))
	assert.Equal(t, 1, Compute(log, "bob"))
}

// Property: credit is a pure fold over the log, so any reordering of the
// events lands on the same value.
func TestProperty_ComputeOrderInvariant(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping property test in short mode")
	}

	rapid.Check(t, func(rt *rapid.T) {
		numJoins := rapid.IntRange(0, 20).Draw(rt, "numJoins")
		joins := make([]JoinRecord, numJoins)
		for i := range joins {
			joins[i] = JoinRecord{
				MemberID:  fmt.Sprintf("m%d", i),
				InviterID: inviter(rapid.SampledFrom([]string{"alice", "bob"}).Draw(rt, "joinInviter")),
			}
		}
		numLeaves := rapid.IntRange(0, numJoins).Draw(rt, "numLeaves")
		leaves := make([]LeaveRecord, numLeaves)
		for i := range leaves {
			leaves[i] = LeaveRecord{
				InviterID: inviter(rapid.SampledFrom([]string{"alice", "bob"}).Draw(rt, "leaveInviter")),
			}
		}
		numAdjustments := rapid.IntRange(0, 5).Draw(rt, "numAdjustments")
		adjustments := make([]AdjustmentRecord, numAdjustments)
		for i := range adjustments {
			adjustments[i] = AdjustmentRecord{
				MemberID: rapid.SampledFrom([]string{"alice", "bob"}).Draw(rt, "adjustMember"),
				Amount:   rapid.IntRange(-10, 10).Draw(rt, "amount"),
			}
		}
		log := EventLog{Joins: joins, Leaves: leaves, Adjustments: adjustments}
		want := Compute(log, "alice")

		shuffled := EventLog{
			Joins:       append([]JoinRecord(nil), joins...),
			Leaves:      append([]LeaveRecord(nil), leaves...),
			Adjustments: append([]AdjustmentRecord(nil), adjustments...),
		}
		permute := rapid.Permutation(shuffled.Joins).Draw(rt, "permutedJoins")
		shuffled.Joins = permute
		shuffled.Leaves = rapid.Permutation(shuffled.Leaves).Draw(rt, "permutedLeaves")
		shuffled.Adjustments = rapid.Permutation(shuffled.Adjustments).Draw(rt, "permutedAdjustments")

		if got := Compute(shuffled, "alice"); got != want {
			rt.Fatalf("credit changed under reordering: %d != %d", got, want)
		}
	})
}
