// SPDX-License-Identifier: MIT

// Package storage is the object store adapter. Artifacts are addressed by
// logical paths inside a bucket; the filesystem implementation keeps the
// bucket as a directory tree under a configured root.
package storage

import "fmt"

// Logical path helpers. These define the artifact layout shared by the
// pipeline workers and the trainer.

// RawPath locates an uploaded recording blob.
func RawPath(subjectID, sessionID, recordingID, ext string) string {
	return fmt.Sprintf("raw/%s/%s/%s.%s", subjectID, sessionID, recordingID, ext)
}

// CleanedPath locates the preprocessed recording.
func CleanedPath(recordingID string) string {
	return fmt.Sprintf("processed/%s/cleaned_raw.fif", recordingID)
}

// FeaturesPath locates the per-epoch-per-channel feature table.
func FeaturesPath(recordingID string) string {
	return fmt.Sprintf("features/%s/features.parquet", recordingID)
}

// AveragedFeaturesPath locates the channel-averaged feature table.
func AveragedFeaturesPath(recordingID string) string {
	return fmt.Sprintf("features/%s/features_averaged.parquet", recordingID)
}

// FeatureSummaryPath locates the feature summary JSON.
func FeatureSummaryPath(recordingID string) string {
	return fmt.Sprintf("features/%s/summary.json", recordingID)
}

// ModelPath locates a serialized model artifact.
func ModelPath(modelID string) string {
	return fmt.Sprintf("models/%s/model.bin", modelID)
}

// ModelMetricsPath locates a model's metrics JSON.
func ModelMetricsPath(modelID string) string {
	return fmt.Sprintf("models/%s/metrics.json", modelID)
}

// EvalPlotPath locates a model evaluation plot.
func EvalPlotPath(modelID, name string) string {
	return fmt.Sprintf("models/%s/eval_plots/%s.png", modelID, name)
}

// VisualizationPath locates a preprocessing visualization.
func VisualizationPath(recordingID, name string) string {
	return fmt.Sprintf("visualizations/%s/%s.png", recordingID, name)
}
