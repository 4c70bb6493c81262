package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotAt(uses, maxUses int, createdAt time.Time) CodeSnapshot {
	return CodeSnapshot{Uses: uses, MaxUses: maxUses, CreatedAt: createdAt}
}

func TestResolveExactMatch(t *testing.T) {
	now := time.Now()
	before := map[string]CodeSnapshot{
		"alpha": snapshotAt(5, 0, now.Add(-time.Hour)),
		"bravo": snapshotAt(2, 0, now.Add(-time.Minute)),
	}
	after := map[string]CodeSnapshot{
		"alpha": snapshotAt(6, 0, now.Add(-time.Hour)),
		"bravo": snapshotAt(2, 0, now.Add(-time.Minute)),
	}
	attribution := Resolve(before, after)
	require.Equal(t, AttributionResolved, attribution.Kind)
	assert.Equal(t, "alpha", attribution.Code)
	require.NotNil(t, attribution.ExactMatch())
	assert.Equal(t, "alpha", *attribution.ExactMatch())
	assert.Empty(t, attribution.MarshalCandidates())
}

func TestResolveAmbiguous(t *testing.T) {
	now := time.Now()
	before := map[string]CodeSnapshot{
		"alpha": snapshotAt(5, 0, now.Add(-time.Minute)),
		"bravo": snapshotAt(2, 0, now.Add(-time.Hour)),
	}
	after := map[string]CodeSnapshot{
		"alpha": snapshotAt(6, 0, now.Add(-time.Minute)),
		"bravo": snapshotAt(3, 0, now.Add(-time.Hour)),
	}
	attribution := Resolve(before, after)
	require.Equal(t, AttributionAmbiguous, attribution.Kind)
	// 候选按创建时间从老到新
	assert.Equal(t, []string{"bravo", "alpha"}, attribution.Candidates)
	assert.Nil(t, attribution.ExactMatch())

	candidates, err := UnmarshalCandidates(attribution.MarshalCandidates())
	require.NoError(t, err)
	assert.Equal(t, []string{"bravo", "alpha"}, candidates)
}

func TestResolveUnknown(t *testing.T) {
	now := time.Now()
	snapshot := map[string]CodeSnapshot{
		"alpha": snapshotAt(5, 0, now),
	}
	attribution := Resolve(snapshot, snapshot)
	assert.Equal(t, AttributionUnknown, attribution.Kind)
	assert.Nil(t, attribution.ExactMatch())

	attribution = Resolve(nil, nil)
	assert.Equal(t, AttributionUnknown, attribution.Kind)
}

func TestResolveSingleCodeJumpedByMoreThanOne(t *testing.T) {
	now := time.Now()
	before := map[string]CodeSnapshot{"alpha": snapshotAt(5, 0, now)}
	after := map[string]CodeSnapshot{"alpha": snapshotAt(7, 0, now)}
	attribution := Resolve(before, after)
	// 计数跳了两格说明快照间混入了别的加入，不能武断归因
	require.Equal(t, AttributionAmbiguous, attribution.Kind)
	assert.Equal(t, []string{"alpha"}, attribution.Candidates)
}

func TestResolveExhaustedCodeRevokedBetweenSnapshots(t *testing.T) {
	now := time.Now()
	before := map[string]CodeSnapshot{
		"lastuse": snapshotAt(4, 5, now.Add(-time.Hour)),
		"bravo":   snapshotAt(2, 0, now),
	}
	after := map[string]CodeSnapshot{
		"bravo": snapshotAt(2, 0, now),
	}
	attribution := Resolve(before, after)
	require.Equal(t, AttributionResolved, attribution.Kind)
	assert.Equal(t, "lastuse", attribution.Code)
}

func TestResolveRevokedCodeNotNearExhaustion(t *testing.T) {
	now := time.Now()
	before := map[string]CodeSnapshot{
		"revoked": snapshotAt(2, 5, now),
		"bravo":   snapshotAt(1, 0, now),
	}
	after := map[string]CodeSnapshot{
		"bravo": snapshotAt(1, 0, now),
	}
	// 离用尽还远的码被撤销，与这次加入无关
	attribution := Resolve(before, after)
	assert.Equal(t, AttributionUnknown, attribution.Kind)
}

func TestResolveNewCodeFirstUse(t *testing.T) {
	now := time.Now()
	before := map[string]CodeSnapshot{}
	after := map[string]CodeSnapshot{
		"fresh": snapshotAt(1, 0, now),
	}
	attribution := Resolve(before, after)
	require.Equal(t, AttributionResolved, attribution.Kind)
	assert.Equal(t, "fresh", attribution.Code)
}

func TestResolveCandidateOrderTieBreak(t *testing.T) {
	now := time.Now()
	before := map[string]CodeSnapshot{
		"zulu":  snapshotAt(1, 0, now),
		"alpha": snapshotAt(3, 0, now),
	}
	after := map[string]CodeSnapshot{
		"zulu":  snapshotAt(2, 0, now),
		"alpha": snapshotAt(4, 0, now),
	}
	attribution := Resolve(before, after)
	require.Equal(t, AttributionAmbiguous, attribution.Kind)
	// 创建时间相同按码字典序
	assert.Equal(t, []string{"alpha", "zulu"}, attribution.Candidates)
}
