//go:build linux

package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUsageAccumulatesAndCostsKnownModel(t *testing.T) {
	c := NewCollector()
	u := c.RecordUsage("s1", "claude-3-sonnet", 1_000_000, 1_000_000)
	assert.Equal(t, int64(1_000_000), u.InputTokens)
	assert.Equal(t, int64(1_000_000), u.OutputTokens)
	assert.InDelta(t, 18.0, u.EstimatedCost, 0.001) // 3 + 15 per spec seed table

	u2 := c.RecordUsage("s1", "claude-3-sonnet", 500_000, 0)
	assert.Equal(t, int64(1_500_000), u2.InputTokens)
}

func TestRecordUsageFallsBackToDefaultRateForUnknownModel(t *testing.T) {
	c := NewCollector()
	u := c.RecordUsage("s1", "some-unlisted-model", 1_000_000, 0)
	assert.InDelta(t, DefaultModelRate.InputPerMillion, u.EstimatedCost, 0.001)
}

func TestDropSessionClearsUsage(t *testing.T) {
	c := NewCollector()
	c.RecordUsage("s1", "gpt-4o-mini", 1000, 1000)
	c.DropSession("s1")
	assert.Equal(t, TokenUsage{}, c.Usage("s1"))
}

func TestSampleFirstCallEstablishesBaseline(t *testing.T) {
	c := NewCollector()
	pid := os.Getpid()
	first, err := c.Sample(pid)
	require.NoError(t, err)
	assert.Equal(t, 0.0, first.CPUPercent)
	assert.Equal(t, int64(0), first.ElapsedMs)

	second, err := c.Sample(pid)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, second.ElapsedMs, int64(0))

	c.DropBaseline(pid)
}

func TestWalkWorkspaceSkipsIgnoredDirsAndTracksLargest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "pkg", "big.js"), []byte("xxxxxxxxxxxxxxxxxxxx"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("hello world"), 0644))

	usage, err := WalkWorkspace(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, usage.FileCount)
	assert.Equal(t, int64(len("hello")+len("hello world")), usage.TotalBytes)
	assert.Equal(t, int64(len("hello world")), usage.LargestFile)
}

func TestAggregateCountsDeadPidsAsZeroResource(t *testing.T) {
	c := NewCollector()
	c.RecordUsage("s1", "gpt-4o", 1000, 1000)
	agg := c.Aggregate([]SessionResource{{SessionID: "s1", PID: 0}})
	assert.Equal(t, 1, agg.SessionCount)
	assert.Equal(t, 0.0, agg.TotalCPUPercent)
	assert.Greater(t, agg.TotalCostUSD, 0.0)
}
