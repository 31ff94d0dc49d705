package services

import (
	"time"

	"telesession/internal/core/domain"
)

const (
	maxLatency        = 300 * time.Millisecond
	maxJitter         = 50 * time.Millisecond
	maxPacketLoss     = 0.02
	minFrameRate      = 20.0
	bandwidthHeadroom = 1.5

	// medicalWarningLimit is the number of distinct warnings beyond which a
	// medical-priority session is forced onto the medical-critical tier.
	medicalWarningLimit = 2
)

const (
	WarnHighLatency           = "high latency"
	WarnPacketLoss            = "packet loss"
	WarnJitter                = "jitter"
	WarnInsufficientBandwidth = "insufficient bandwidth"
	WarnLowFPS                = "low fps"
)

type OptimizerConfig struct {
	LowLatencyMode  bool
	MedicalPriority bool
}

func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		LowLatencyMode:  true,
		MedicalPriority: true,
	}
}

// Decision is the outcome of one analysis pass.
type Decision struct {
	Profile       domain.ProfileName
	Optimizations []string
	Warnings      []string
}

// Recommendations groups operator-facing advice by urgency.
type Recommendations struct {
	Immediate []string
	Suggested []string
	LongTerm  []string
}

// MediaOptimizer maps a metrics sample plus the current profile to a
// recommended profile. Analyze is pure: no timers, no randomness, no internal
// state, so identical inputs always produce identical decisions. Oscillation
// damping lives in the Coordinator's hold-down, not here.
type MediaOptimizer struct {
	catalog *ProfileCatalog
	cfg     OptimizerConfig
}

func NewMediaOptimizer(catalog *ProfileCatalog, cfg OptimizerConfig) *MediaOptimizer {
	return &MediaOptimizer{catalog: catalog, cfg: cfg}
}

// Analyze applies the downgrade rules in order. Rules are cumulative: each may
// push the candidate further down the tier ladder. Rules never upgrade.
func (o *MediaOptimizer) Analyze(m domain.NetworkMetrics, current domain.ProfileName) Decision {
	d := Decision{Profile: current}

	if m.Latency > maxLatency {
		d.Warnings = append(d.Warnings, WarnHighLatency)
		if o.cfg.LowLatencyMode {
			d.Optimizations = append(d.Optimizations, "low latency mode")
			d.Profile = o.catalog.Lower(d.Profile)
		}
	}

	if m.PacketLoss > maxPacketLoss {
		d.Warnings = append(d.Warnings, WarnPacketLoss)
		d.Optimizations = append(d.Optimizations, "reduced quality for stability")
		d.Profile = o.catalog.Lower(d.Profile)
	}

	if m.Jitter > maxJitter {
		d.Warnings = append(d.Warnings, WarnJitter)
		d.Optimizations = append(d.Optimizations, "adaptive jitter buffer")
	}

	// Bandwidth is checked against the candidate chosen so far, not the
	// original profile: earlier downgrades lower the requirement.
	if required, err := o.catalog.Get(d.Profile); err == nil {
		if float64(m.Bandwidth) < float64(required.Video.Bitrate)*bandwidthHeadroom {
			d.Warnings = append(d.Warnings, WarnInsufficientBandwidth)
			d.Optimizations = append(d.Optimizations, "adaptive bitrate")
			d.Profile = o.catalog.Lower(d.Profile)
		}
	}

	if m.FrameRate > 0 && m.FrameRate < minFrameRate {
		d.Warnings = append(d.Warnings, WarnLowFPS)
		d.Optimizations = append(d.Optimizations, "reduced frame rate")
		d.Profile = o.catalog.Lower(d.Profile)
	}

	if o.cfg.MedicalPriority && len(d.Warnings) > medicalWarningLimit {
		d.Profile = domain.ProfileMedicalCritical
		d.Optimizations = append(d.Optimizations, "medical critical profile")
	}

	return d
}

// Recommendations mirrors the analysis thresholds with operator guidance.
func (o *MediaOptimizer) Recommendations(m domain.NetworkMetrics) Recommendations {
	var r Recommendations

	if m.Latency > 500*time.Millisecond {
		r.Immediate = append(r.Immediate, "check internet connection", "close bandwidth-heavy applications")
	}
	if m.PacketLoss > 0.05 {
		r.Immediate = append(r.Immediate, "switch to a more stable connection")
	}
	if m.Bandwidth > 0 && m.Bandwidth < 2000 {
		r.Suggested = append(r.Suggested, "prefer wired over wireless connection")
	}
	if m.FrameRate > 0 && m.FrameRate < 25 {
		r.Suggested = append(r.Suggested, "check device load")
	}
	if m.Latency > 200*time.Millisecond {
		r.LongTerm = append(r.LongTerm, "consider a lower-latency network provider")
	}
	if m.Bandwidth > 0 && m.Bandwidth < 5000 {
		r.LongTerm = append(r.LongTerm, "evaluate a bandwidth upgrade")
	}

	return r
}
