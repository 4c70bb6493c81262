package ledger

import (
	"encoding/json"
	"time"

	"github.com/emirpasic/gods/sets/treeset"
	"tallybot.io/tally-social/pkg/errors"
)

// CodeSnapshot is one invite code's observed state inside a snapshot of
// the guild's invite list.
type CodeSnapshot struct {
	Uses      int
	MaxUses   int
	CreatedAt time.Time
}

type AttributionKind int

const (
	// AttributionUnknown 无法归因：无码计数变化(原生邀请或采样太晚)
	AttributionUnknown = AttributionKind(iota)
	// AttributionResolved 唯一归因
	AttributionResolved
	// AttributionAmbiguous 多码竞争，待管理员人工裁定
	AttributionAmbiguous
)

// Attribution is the tagged outcome of resolving one join against a
// snapshot pair. Exactly one of Code/Candidates is meaningful:
// Code for Resolved, Candidates (oldest code first) for Ambiguous.
type Attribution struct {
	Kind       AttributionKind
	Code       string
	Candidates []string
}

// ExactMatch returns the resolved code as a nullable column value.
func (a Attribution) ExactMatch() *string {
	if a.Kind != AttributionResolved {
		return nil
	}
	code := a.Code
	return &code
}

// MarshalCandidates serializes the candidate set for persistence.
// Empty for anything but an ambiguous outcome.
func (a Attribution) MarshalCandidates() string {
	if a.Kind != AttributionAmbiguous || len(a.Candidates) == 0 {
		return ""
	}
	raw, _ := json.Marshal(a.Candidates)
	return string(raw)
}

func UnmarshalCandidates(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var candidates []string
	if err := json.Unmarshal([]byte(raw), &candidates); err != nil {
		return nil, errors.Wrap(err, "unmarshal attribution candidates")
	}
	return candidates, nil
}

type candidate struct {
	code      string
	createdAt time.Time
	delta     int
}

// Resolve determines which invite code most plausibly explains a join,
// given the guild's invite list observed immediately before and after
// the join notification.
//
// Exactly one code increased by exactly one: that code is the answer.
// No counter moved: the join is attribution-unknown (vanity invite, or
// the snapshot ran too late to see the delta). Anything else is left
// ambiguous for a moderator: ambiguous joins earn no automatic credit.
func Resolve(before, after map[string]CodeSnapshot) Attribution {
	set := treeset.NewWith(func(a, b interface{}) int {
		ca, cb := a.(candidate), b.(candidate)
		if !ca.createdAt.Equal(cb.createdAt) {
			if ca.createdAt.Before(cb.createdAt) {
				return -1
			}
			return 1
		}
		switch {
		case ca.code < cb.code:
			return -1
		case ca.code > cb.code:
			return 1
		default:
			return 0
		}
	})

	for code, now := range after {
		prev := before[code]
		if now.Uses > prev.Uses {
			set.Add(candidate{code: code, createdAt: now.CreatedAt, delta: now.Uses - prev.Uses})
		}
	}
	// 平台在邀请码用尽时直接撤销，after快照里已看不到它。
	// A code one use away from exhaustion that vanished between the
	// snapshots was consumed by this join; revocation does not erase
	// its historical credit.
	for code, prev := range before {
		if _, live := after[code]; live {
			continue
		}
		if prev.MaxUses > 0 && prev.Uses == prev.MaxUses-1 {
			set.Add(candidate{code: code, createdAt: prev.CreatedAt, delta: 1})
		}
	}

	if set.Empty() {
		return Attribution{Kind: AttributionUnknown}
	}
	candidates := make([]candidate, 0, set.Size())
	for _, v := range set.Values() {
		candidates = append(candidates, v.(candidate))
	}
	if len(candidates) == 1 && candidates[0].delta == 1 {
		return Attribution{Kind: AttributionResolved, Code: candidates[0].code}
	}
	codes := make([]string, 0, len(candidates))
	for _, c := range candidates {
		codes = append(codes, c.code)
	}
	return Attribution{Kind: AttributionAmbiguous, Candidates: codes}
}
