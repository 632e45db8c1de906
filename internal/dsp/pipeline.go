// SPDX-License-Identifier: MIT

package dsp

import (
	"fmt"

	"github.com/neurolab/neurolab/internal/sigio"
)

// Stage names, in execution order. The orchestrator's checkpoint callback
// receives these before each stage runs.
const (
	StageResample    = "resample"
	StageNotch       = "notch"
	StageBandpass    = "band-pass"
	StageBadChannels = "bad-channels"
	StageICA         = "ica"
)

// Config collects every knob the preprocessing chain needs.
type Config struct {
	TargetSfreq  float64
	NotchFreqs   []float64
	BandpassLow  float64
	BandpassHigh float64
	ICA          ICAConfig
	Artifact     ArtifactConfig
}

// Report summarizes what preprocessing did to a recording.
type Report struct {
	OriginalSfreq    float64            `json:"original_sfreq"`
	TargetSfreq      float64            `json:"target_sfreq"`
	BadChannels      []string           `json:"bad_channels"`
	Criteria         BadChannelCriteria `json:"criteria"`
	Interpolated     []string           `json:"interpolated"`
	SkippedInterp    []string           `json:"skipped_interpolation,omitempty"`
	ICA              *ICAResult         `json:"ica"`
	MuscleSegments   []MuscleSegment    `json:"muscle_segments"`
	NeedsReview      bool               `json:"needs_review"`
	NeedsReviewCause string             `json:"needs_review_cause,omitempty"`
}

// Checkpoint is invoked before each stage; returning an error (typically
// errdefs.ErrCancelled) aborts the chain.
type Checkpoint func(stage string) error

// Preprocess runs the full cleaning chain on b in place and returns the
// report. The caller owns persistence of the cleaned buffer.
func Preprocess(b *sigio.Buffer, cfg Config, checkpoint Checkpoint) (*Report, error) {
	if checkpoint == nil {
		checkpoint = func(string) error { return nil }
	}
	rep := &Report{OriginalSfreq: b.SampleRate, TargetSfreq: cfg.TargetSfreq}

	if err := checkpoint(StageResample); err != nil {
		return nil, err
	}
	if b.SampleRate != cfg.TargetSfreq {
		resampled, err := Resample(b.Data, b.SampleRate, cfg.TargetSfreq)
		if err != nil {
			return nil, err
		}
		b.Data = resampled
		b.SampleRate = cfg.TargetSfreq
	}

	if err := checkpoint(StageNotch); err != nil {
		return nil, err
	}
	if err := NotchFilter(b.Data, cfg.NotchFreqs, b.SampleRate); err != nil {
		return nil, err
	}

	if err := checkpoint(StageBandpass); err != nil {
		return nil, err
	}
	if err := BandpassFilter(b.Data, cfg.BandpassLow, cfg.BandpassHigh, b.SampleRate); err != nil {
		return nil, err
	}

	if err := checkpoint(StageBadChannels); err != nil {
		return nil, err
	}
	bads, crit := DetectBadChannels(b, cfg.Artifact)
	rep.BadChannels = bads
	rep.Criteria = crit
	b.MarkBad(bads...)

	if nEEG := len(b.EEGIndices()); nEEG > 0 && cfg.Artifact.MaxBadChannelsPct > 0 {
		pct := float64(len(bads)) / float64(nEEG)
		if pct > cfg.Artifact.MaxBadChannelsPct {
			rep.NeedsReview = true
			rep.NeedsReviewCause = fmt.Sprintf("%d of %d EEG channels flagged bad", len(bads), nEEG)
		}
	}

	interp, skipped, err := InterpolateBadChannels(b)
	if err != nil {
		return nil, err
	}
	rep.Interpolated = interp
	rep.SkippedInterp = skipped

	if err := checkpoint(StageICA); err != nil {
		return nil, err
	}
	ica, err := RemoveArtifactsICA(b, cfg.ICA)
	if err != nil {
		return nil, err
	}
	rep.ICA = ica

	segs, err := DetectMuscleArtifacts(b, cfg.Artifact.MuscleRMSThreshold)
	if err != nil {
		return nil, err
	}
	rep.MuscleSegments = segs

	return rep, nil
}
