// SPDX-License-Identifier: MIT

package train

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/neurolab/neurolab/internal/errdefs"
	"github.com/neurolab/neurolab/internal/feature"
	"github.com/neurolab/neurolab/internal/storage"
	"github.com/neurolab/neurolab/internal/store"
)

// Dataset is the assembled training matrix. One row per epoch, channel
// averaged; the label of a recording applies to all of its epochs.
type Dataset struct {
	X            [][]float64
	Y            []int
	FeatureNames []string
	RecordingIDs []string // recordings that contributed rows
	ClassCounts  map[int]int
}

// BuildDataset loads the channel-averaged feature table of every recording
// and stacks them with per-recording labels. Recordings without features are
// skipped with a warning; fewer than two contributing recordings is a
// DataError.
func BuildDataset(
	ctx context.Context,
	st *store.DB,
	objects storage.Store,
	recordingIDs []string,
	labels map[string]int,
	logger zerolog.Logger,
) (*Dataset, error) {
	ds := &Dataset{
		FeatureNames: feature.Names(),
		ClassCounts:  make(map[int]int),
	}

	for _, recID := range recordingIDs {
		rec, err := st.GetRecording(ctx, recID)
		if err != nil {
			return nil, fmt.Errorf("train: load recording %s: %w", recID, err)
		}
		if rec.FeaturesPath == "" {
			logger.Warn().Str("recording_id", recID).Msg("recording has no features, skipping")
			continue
		}

		data, err := objects.GetBytes(ctx, storage.AveragedFeaturesPath(recID))
		if err != nil {
			return nil, fmt.Errorf("train: download features for %s: %w", recID, err)
		}
		rows, err := feature.DecodeParquet[feature.AveragedRow](data)
		if err != nil {
			return nil, fmt.Errorf("train: parse features for %s: %w", recID, err)
		}
		if len(rows) == 0 {
			logger.Warn().Str("recording_id", recID).Msg("feature table is empty, skipping")
			continue
		}

		label := labels[recID]
		for _, row := range rows {
			ds.X = append(ds.X, row.Values())
			ds.Y = append(ds.Y, label)
		}
		ds.ClassCounts[label] += len(rows)
		ds.RecordingIDs = append(ds.RecordingIDs, recID)
	}

	if len(ds.RecordingIDs) < 2 {
		return nil, &errdefs.DataError{
			Reason: fmt.Sprintf("need at least 2 recordings with features, got %d", len(ds.RecordingIDs)),
		}
	}
	return ds, nil
}
