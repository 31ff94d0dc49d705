package services

import (
	"testing"
	"time"

	"telesession/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOptimizer(cfg OptimizerConfig) *MediaOptimizer {
	return NewMediaOptimizer(NewProfileCatalog(), cfg)
}

func TestAnalyze_CleanMetricsKeepProfile(t *testing.T) {
	o := newOptimizer(DefaultOptimizerConfig())

	m := domain.NetworkMetrics{
		Latency:    80 * time.Millisecond,
		Jitter:     10 * time.Millisecond,
		PacketLoss: 0.001,
		Bandwidth:  5000,
	}
	d := o.Analyze(m, domain.ProfileHigh)

	assert.Equal(t, domain.ProfileHigh, d.Profile)
	assert.Empty(t, d.Warnings)
	assert.Empty(t, d.Optimizations)
}

func TestAnalyze_HighLatencyDowngradesOneTier(t *testing.T) {
	o := newOptimizer(DefaultOptimizerConfig())

	m := domain.NetworkMetrics{
		Latency:   350 * time.Millisecond,
		Bandwidth: 10000,
	}
	d := o.Analyze(m, domain.ProfileUltra)

	assert.Equal(t, domain.ProfileHigh, d.Profile)
	assert.Equal(t, []string{WarnHighLatency}, d.Warnings)
	assert.Contains(t, d.Optimizations, "low latency mode")
}

func TestAnalyze_HighLatencyWithoutLowLatencyModeOnlyWarns(t *testing.T) {
	o := newOptimizer(OptimizerConfig{LowLatencyMode: false, MedicalPriority: false})

	m := domain.NetworkMetrics{
		Latency:   350 * time.Millisecond,
		Bandwidth: 10000,
	}
	d := o.Analyze(m, domain.ProfileUltra)

	assert.Equal(t, domain.ProfileUltra, d.Profile)
	assert.Equal(t, []string{WarnHighLatency}, d.Warnings)
}

func TestAnalyze_JitterWarnsWithoutDowngrade(t *testing.T) {
	o := newOptimizer(DefaultOptimizerConfig())

	m := domain.NetworkMetrics{
		Jitter:    80 * time.Millisecond,
		Bandwidth: 10000,
	}
	d := o.Analyze(m, domain.ProfileHigh)

	assert.Equal(t, domain.ProfileHigh, d.Profile)
	assert.Equal(t, []string{WarnJitter}, d.Warnings)
	assert.Contains(t, d.Optimizations, "adaptive jitter buffer")
}

func TestAnalyze_PacketLossDowngrades(t *testing.T) {
	o := newOptimizer(DefaultOptimizerConfig())

	m := domain.NetworkMetrics{
		PacketLoss: 0.05,
		Bandwidth:  10000,
	}
	d := o.Analyze(m, domain.ProfileHigh)

	assert.Equal(t, domain.ProfileMedium, d.Profile)
	assert.Equal(t, []string{WarnPacketLoss}, d.Warnings)
}

func TestAnalyze_BandwidthCheckedAgainstCandidate(t *testing.T) {
	o := newOptimizer(DefaultOptimizerConfig())

	// 2000 kbps is too little for high (needs 2500*1.5) but enough for
	// medium (1000*1.5), so the latency downgrade to high triggers a second
	// downgrade but the chain stops at medium.
	m := domain.NetworkMetrics{
		Latency:   350 * time.Millisecond,
		Bandwidth: 2000,
	}
	d := o.Analyze(m, domain.ProfileUltra)

	assert.Equal(t, domain.ProfileMedium, d.Profile)
	assert.ElementsMatch(t, []string{WarnHighLatency, WarnInsufficientBandwidth}, d.Warnings)
}

func TestAnalyze_ZeroFrameRateIsNotLowFPS(t *testing.T) {
	o := newOptimizer(DefaultOptimizerConfig())

	// FrameRate 0 means "no sample yet", not a stalled stream.
	m := domain.NetworkMetrics{FrameRate: 0, Bandwidth: 10000}
	d := o.Analyze(m, domain.ProfileHigh)
	assert.Empty(t, d.Warnings)

	m.FrameRate = 12
	d = o.Analyze(m, domain.ProfileHigh)
	assert.Equal(t, []string{WarnLowFPS}, d.Warnings)
	assert.Equal(t, domain.ProfileMedium, d.Profile)
}

func TestAnalyze_MedicalOverrideOnManyWarnings(t *testing.T) {
	o := newOptimizer(DefaultOptimizerConfig())

	// Latency + loss + jitter: three warnings crosses the medical limit.
	m := domain.NetworkMetrics{
		Latency:    400 * time.Millisecond,
		PacketLoss: 0.05,
		Jitter:     90 * time.Millisecond,
		Bandwidth:  10000,
	}
	d := o.Analyze(m, domain.ProfileUltra)

	assert.Equal(t, domain.ProfileMedicalCritical, d.Profile)
	assert.Len(t, d.Warnings, 3)
	assert.Contains(t, d.Optimizations, "medical critical profile")
}

func TestAnalyze_NoMedicalOverrideWhenDisabled(t *testing.T) {
	o := newOptimizer(OptimizerConfig{LowLatencyMode: true, MedicalPriority: false})

	m := domain.NetworkMetrics{
		Latency:    400 * time.Millisecond,
		PacketLoss: 0.05,
		Jitter:     90 * time.Millisecond,
		Bandwidth:  10000,
	}
	d := o.Analyze(m, domain.ProfileUltra)

	// Two cumulative downgrades from ultra, no forced override.
	assert.Equal(t, domain.ProfileMedium, d.Profile)
	assert.Len(t, d.Warnings, 3)
}

func TestAnalyze_IsPure(t *testing.T) {
	o := newOptimizer(DefaultOptimizerConfig())

	m := domain.NetworkMetrics{
		Latency:    350 * time.Millisecond,
		PacketLoss: 0.03,
		Bandwidth:  3000,
	}
	first := o.Analyze(m, domain.ProfileUltra)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, o.Analyze(m, domain.ProfileUltra))
	}
}

// Rising packet loss may only push the decision down the ladder, never up.
func TestAnalyze_LossMonotonicity(t *testing.T) {
	o := newOptimizer(DefaultOptimizerConfig())
	catalog := NewProfileCatalog()

	base := domain.NetworkMetrics{
		Latency:   100 * time.Millisecond,
		Bandwidth: 10000,
		FrameRate: 30,
	}

	for _, start := range catalog.Names() {
		prevRank := -1
		for loss := 0.0; loss <= 0.2; loss += 0.01 {
			m := base
			m.PacketLoss = loss
			d := o.Analyze(m, start)
			rank := catalog.Rank(d.Profile)
			require.GreaterOrEqual(t, rank, prevRank,
				"profile rose from rank %d to %d at loss=%.2f starting from %s",
				prevRank, rank, loss, start)
			prevRank = rank
		}
	}
}

func TestRecommendations_Thresholds(t *testing.T) {
	o := newOptimizer(DefaultOptimizerConfig())

	r := o.Recommendations(domain.NetworkMetrics{
		Latency:    600 * time.Millisecond,
		PacketLoss: 0.08,
		Bandwidth:  1500,
		FrameRate:  20,
	})

	assert.NotEmpty(t, r.Immediate)
	assert.NotEmpty(t, r.Suggested)
	assert.NotEmpty(t, r.LongTerm)

	clean := o.Recommendations(domain.NetworkMetrics{
		Latency:   50 * time.Millisecond,
		Bandwidth: 10000,
		FrameRate: 30,
	})
	assert.Empty(t, clean.Immediate)
	assert.Empty(t, clean.Suggested)
	assert.Empty(t, clean.LongTerm)
}
