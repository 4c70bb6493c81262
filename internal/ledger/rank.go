package ledger

import (
	"tallybot.io/tally-social/internal/database"
)

// PickRank returns the configured rank with the highest threshold at or
// below the credit, or nil when the credit clears no threshold. Equal
// thresholds on different roles are legal; the most recently created
// rank wins the tie.
func PickRank(ranks []*database.Rank, credit int) *database.Rank {
	var best *database.Rank
	for _, rank := range ranks {
		if rank.NumInvites > credit {
			continue
		}
		if best == nil || rank.NumInvites > best.NumInvites {
			best = rank
			continue
		}
		if rank.NumInvites == best.NumInvites && rank.CreatedAt.After(best.CreatedAt) {
			best = rank
		}
	}
	return best
}
