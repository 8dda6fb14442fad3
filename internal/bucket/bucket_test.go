package bucket

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchlabs/fieldtrial/experiment"
)

func TestPoint_KnownVectors(t *testing.T) {
	// Pinned values: these change only with a domain version bump.
	tests := []struct {
		domain string
		parts  []string
		want   uint32
	}{
		{DomainMembership, []string{"nickname-nightly-1", "alice"}, 1010607284},
		{DomainMembership, []string{"nickname-nightly-1", "bob"}, 1647259310},
		{DomainMembership, []string{"nickname-nightly-1", ""}, 3959678691},
		{DomainMembership, []string{"", "alice"}, 2532871501},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v", tt.parts), func(t *testing.T) {
			assert.Equal(t, tt.want, Point(tt.domain, tt.parts...))
		})
	}
}

func TestPoint_SeparatorPreventsBoundaryAmbiguity(t *testing.T) {
	assert.NotEqual(t,
		Point(DomainMembership, "ab", "c"),
		Point(DomainMembership, "a", "bc"))
}

func TestPoint_DomainSeparation(t *testing.T) {
	assert.NotEqual(t,
		Point(DomainMembership, "ns", "alice"),
		Point(DomainBranch, "ns", "alice"))
}

func TestInRange_KnownVectors(t *testing.T) {
	cfg := experiment.BucketConfig{
		Namespace: "nickname-nightly-1",
		Start:     0,
		Count:     1000,
		Total:     10000,
	}

	// alice's point is 7284, heidi's is 188.
	in, err := InRange(cfg, "alice")
	require.NoError(t, err)
	assert.False(t, in)

	in, err = InRange(cfg, "heidi")
	require.NoError(t, err)
	assert.True(t, in)
}

func TestInRange_FullRangeCoversEveryone(t *testing.T) {
	cfg := experiment.BucketConfig{Namespace: "always", Start: 0, Count: 10000, Total: 10000}
	for i := 0; i < 50; i++ {
		in, err := InRange(cfg, fmt.Sprintf("unit-%d", i))
		require.NoError(t, err)
		assert.True(t, in)
	}
}

func TestInRange_ZeroCountCoversNobody(t *testing.T) {
	cfg := experiment.BucketConfig{Namespace: "never", Start: 0, Count: 0, Total: 10000}
	for i := 0; i < 50; i++ {
		in, err := InRange(cfg, fmt.Sprintf("unit-%d", i))
		require.NoError(t, err)
		assert.False(t, in)
	}
}

func TestInRange_BadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  experiment.BucketConfig
	}{
		{"zero total", experiment.BucketConfig{Namespace: "ns", Count: 10, Total: 0}},
		{"negative start", experiment.BucketConfig{Namespace: "ns", Start: -1, Count: 10, Total: 100}},
		{"range exceeds total", experiment.BucketConfig{Namespace: "ns", Start: 90, Count: 20, Total: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InRange(tt.cfg, "alice")
			var oob *OutOfBoundsError
			require.ErrorAs(t, err, &oob)
		})
	}
}

func TestChoose_KnownVectors(t *testing.T) {
	even := []experiment.Branch{
		{Slug: "control", Ratio: 1},
		{Slug: "treatment", Ratio: 1},
	}

	// alice's branch point for sync-rollout-v3 is 1112, bob's is 7979.
	branch, err := Choose("sync-rollout-v3", "alice", even)
	require.NoError(t, err)
	assert.Equal(t, "control", branch)

	branch, err = Choose("sync-rollout-v3", "bob", even)
	require.NoError(t, err)
	assert.Equal(t, "treatment", branch)

	weighted := []experiment.Branch{
		{Slug: "a", Ratio: 1},
		{Slug: "b", Ratio: 2},
		{Slug: "c", Ratio: 1},
	}

	// carol's point for three-way is 3289, inside b's [2500, 7500) window.
	branch, err = Choose("three-way", "carol", weighted)
	require.NoError(t, err)
	assert.Equal(t, "b", branch)

	branch, err = Choose("three-way", "alice", weighted)
	require.NoError(t, err)
	assert.Equal(t, "a", branch)
}

func TestChoose_Deterministic(t *testing.T) {
	branches := []experiment.Branch{
		{Slug: "control", Ratio: 3},
		{Slug: "treatment", Ratio: 7},
	}
	first, err := Choose("stability", "device-42", branches)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Choose("stability", "device-42", branches)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestChoose_SingleBranchTakesAll(t *testing.T) {
	branches := []experiment.Branch{{Slug: "only", Ratio: 1}}
	for i := 0; i < 50; i++ {
		branch, err := Choose("solo", fmt.Sprintf("unit-%d", i), branches)
		require.NoError(t, err)
		assert.Equal(t, "only", branch)
	}
}

func TestChoose_ZeroRatioBranchNeverChosen(t *testing.T) {
	branches := []experiment.Branch{
		{Slug: "dead", Ratio: 0},
		{Slug: "live", Ratio: 1},
	}
	for i := 0; i < 50; i++ {
		branch, err := Choose("partial-zero", fmt.Sprintf("unit-%d", i), branches)
		require.NoError(t, err)
		assert.Equal(t, "live", branch)
	}
}

func TestChoose_EmptyRatios(t *testing.T) {
	branches := []experiment.Branch{
		{Slug: "a", Ratio: 0},
		{Slug: "b", Ratio: 0},
	}
	_, err := Choose("all-zero", "alice", branches)
	var er *EmptyRatiosError
	require.ErrorAs(t, err, &er)
	assert.Equal(t, "all-zero", er.Slug)

	_, err = Choose("no-branches", "alice", nil)
	require.ErrorAs(t, err, &er)
}

func TestChoose_NegativeRatio(t *testing.T) {
	branches := []experiment.Branch{
		{Slug: "a", Ratio: -1},
		{Slug: "b", Ratio: 2},
	}
	_, err := Choose("negative", "alice", branches)
	var ir *InvalidRatioError
	require.True(t, errors.As(err, &ir))
	assert.Equal(t, "a", ir.Branch)
}

func TestChoose_EvenDistribution(t *testing.T) {
	branches := []experiment.Branch{
		{Slug: "control", Ratio: 1},
		{Slug: "treatment", Ratio: 1},
	}
	counts := map[string]int{}
	const trials = 10000
	for i := 0; i < trials; i++ {
		branch, err := Choose("dist-check", fmt.Sprintf("unit-%d", i), branches)
		require.NoError(t, err)
		counts[branch]++
	}
	// Each branch within 2% of an even split.
	assert.InDelta(t, trials/2, counts["control"], trials*0.02)
	assert.InDelta(t, trials/2, counts["treatment"], trials*0.02)
}

func TestAssignments_Golden(t *testing.T) {
	cfg := experiment.BucketConfig{
		Namespace: "startup-gold",
		Start:     2500,
		Count:     5000,
		Total:     10000,
	}
	branches := []experiment.Branch{
		{Slug: "control", Ratio: 1},
		{Slug: "treatment", Ratio: 1},
	}

	var buf bytes.Buffer
	for i := 0; i < 16; i++ {
		unit := fmt.Sprintf("user-%02d", i)
		mp := Point(DomainMembership, cfg.Namespace, unit) % uint32(cfg.Total)
		member, err := InRange(cfg, unit)
		require.NoError(t, err)
		bp := Point(DomainBranch, "startup-gold", unit) % Resolution
		branch, err := Choose("startup-gold", unit, branches)
		require.NoError(t, err)
		fmt.Fprintf(&buf, "%s membership_point=%d member=%t branch_point=%d branch=%s\n",
			unit, mp, member, bp, branch)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "assignments", buf.Bytes())
}
