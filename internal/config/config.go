// SPDX-License-Identifier: MIT

// Package config loads and validates the daemon configuration from YAML with
// environment-variable overrides (NEUROLAB_* keys).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Band describes a named frequency band in Hz.
type Band struct {
	Name string  `yaml:"name"`
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// Bandpass holds the band-pass filter cutoffs in Hz.
type Bandpass struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// ICA configures independent component analysis.
type ICA struct {
	NComponents      int     `yaml:"n_components"`
	RandomState      int64   `yaml:"random_state"`
	EOGCorrThreshold float64 `yaml:"eog_corr_threshold"`
	ECGCorrThreshold float64 `yaml:"ecg_corr_threshold"`
}

// Artifact configures bad-channel and muscle-artifact detection.
type Artifact struct {
	FlatThreshold      float64 `yaml:"flat_threshold"`
	HighVarianceZScore float64 `yaml:"high_variance_zscore"`
	KurtosisThreshold  float64 `yaml:"kurtosis_threshold"`
	MuscleRMSThreshold float64 `yaml:"muscle_rms_threshold"`
	MaxBadChannelsPct  float64 `yaml:"max_bad_channels_pct"`
}

// Features configures the feature engine.
type Features struct {
	Bands          []Band  `yaml:"bands"`
	WelchWindowSec float64 `yaml:"welch_window_sec"`
	EpochLengthSec float64 `yaml:"epoch_length_sec"`
	EpochOverlap   float64 `yaml:"epoch_overlap"`
	EntropyM       int     `yaml:"entropy_m"`
	EntropyRFactor float64 `yaml:"entropy_r_factor"`
}

// Thresholds holds the metric bars a model must clear for promotion.
type Thresholds struct {
	ROCAUC float64 `yaml:"roc_auc"`
	F1     float64 `yaml:"f1"`
}

// Training configures the trainer.
type Training struct {
	CVFolds             int        `yaml:"cv_folds"`
	TestSplit           float64    `yaml:"test_split"`
	PromotionThresholds Thresholds `yaml:"promotion_thresholds"`
}

// Realtime configures the streaming path.
type Realtime struct {
	BufferSeconds int     `yaml:"buffer_seconds"`
	HopSeconds    float64 `yaml:"hop_seconds"`
	Workers       int     `yaml:"workers"`
}

// Retrain configures the auto-retrain tick.
type Retrain struct {
	Period        time.Duration `yaml:"period"`
	MinRecordings int           `yaml:"min_recordings"`
}

// Storage configures the object store adapter and local paths.
type Storage struct {
	Root       string `yaml:"root"`
	Bucket     string `yaml:"bucket"`
	SignKey    string `yaml:"sign_key"`
	InboxDir   string `yaml:"inbox_dir"`
	TempDir    string `yaml:"temp_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Redis configures the ring-buffer store.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Telemetry configures OpenTelemetry tracing.
type Telemetry struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter_type"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Config is the root configuration for the daemon.
type Config struct {
	ListenAddr  string    `yaml:"listen_addr"`
	LogLevel    string    `yaml:"log_level"`
	TargetSfreq float64   `yaml:"target_sfreq"`
	NotchFreqs  []float64 `yaml:"notch_freqs"`
	Bandpass    Bandpass  `yaml:"bandpass"`
	ICA         ICA       `yaml:"ica"`
	Artifact    Artifact  `yaml:"artifact"`
	Features    Features  `yaml:"features"`
	Training    Training  `yaml:"training"`
	Realtime    Realtime  `yaml:"realtime"`
	Retrain     Retrain   `yaml:"retrain"`
	Storage     Storage   `yaml:"storage"`
	Redis       Redis     `yaml:"redis"`
	Telemetry   Telemetry `yaml:"telemetry"`

	// DefaultLabels, when non-empty, lets the auto-retrain tick enqueue a
	// training job instead of only recording a recommendation.
	DefaultLabels map[string]int `yaml:"default_labels"`
}

// DefaultBands is the canonical band list, in contract order.
func DefaultBands() []Band {
	return []Band{
		{Name: "delta", Low: 1, High: 4},
		{Name: "theta", Low: 4, High: 8},
		{Name: "alpha", Low: 8, High: 12},
		{Name: "beta", Low: 12, High: 30},
		{Name: "gamma", Low: 30, High: 45},
	}
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:  ":8080",
		LogLevel:    "info",
		TargetSfreq: 250,
		NotchFreqs:  []float64{50},
		Bandpass:    Bandpass{Low: 1.0, High: 40.0},
		ICA: ICA{
			NComponents:      20,
			RandomState:      42,
			EOGCorrThreshold: 0.35,
			ECGCorrThreshold: 0.30,
		},
		Artifact: Artifact{
			FlatThreshold:      1e-6,
			HighVarianceZScore: 5,
			KurtosisThreshold:  10,
			MuscleRMSThreshold: 1e-4,
			MaxBadChannelsPct:  0.25,
		},
		Features: Features{
			Bands:          DefaultBands(),
			WelchWindowSec: 2.0,
			EpochLengthSec: 2.0,
			EpochOverlap:   0.5,
			EntropyM:       2,
			EntropyRFactor: 0.2,
		},
		Training: Training{
			CVFolds:   5,
			TestSplit: 0.2,
			PromotionThresholds: Thresholds{
				ROCAUC: 0.75,
				F1:     0.65,
			},
		},
		Realtime: Realtime{
			BufferSeconds: 30,
			HopSeconds:    1.0,
			Workers:       4,
		},
		Retrain: Retrain{
			Period:        time.Hour,
			MinRecordings: 20,
		},
		Storage: Storage{
			Root:       "/var/lib/neurolab/objects",
			Bucket:     "neurolab",
			TempDir:    os.TempDir(),
			SQLitePath: "/var/lib/neurolab/neurolab.db",
		},
		Redis: Redis{Addr: "localhost:6379"},
		Telemetry: Telemetry{
			Enabled:      false,
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 0.1,
		},
	}
}

// Load reads YAML from path (if non-empty), applies NEUROLAB_* environment
// overrides on top of defaults, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("NEUROLAB_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("NEUROLAB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("NEUROLAB_STORAGE_ROOT"); v != "" {
		cfg.Storage.Root = v
	}
	if v := os.Getenv("NEUROLAB_STORAGE_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("NEUROLAB_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("NEUROLAB_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("NEUROLAB_TARGET_SFREQ"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.TargetSfreq = f
		}
	}
	if v := os.Getenv("NEUROLAB_NOTCH_FREQS"); v != "" {
		var freqs []float64
		for _, part := range strings.Split(v, ",") {
			if f, err := strconv.ParseFloat(strings.TrimSpace(part), 64); err == nil {
				freqs = append(freqs, f)
			}
		}
		if len(freqs) > 0 {
			cfg.NotchFreqs = freqs
		}
	}
	if v := os.Getenv("NEUROLAB_REALTIME_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Realtime.Workers = n
		}
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.TargetSfreq <= 0 {
		return fmt.Errorf("config: target_sfreq must be positive, got %v", c.TargetSfreq)
	}
	if c.Bandpass.Low <= 0 || c.Bandpass.High <= c.Bandpass.Low {
		return fmt.Errorf("config: invalid bandpass [%v, %v]", c.Bandpass.Low, c.Bandpass.High)
	}
	if c.Bandpass.High >= c.TargetSfreq/2 {
		return fmt.Errorf("config: bandpass high %v exceeds Nyquist of target_sfreq %v", c.Bandpass.High, c.TargetSfreq)
	}
	if c.Features.EpochOverlap < 0 || c.Features.EpochOverlap >= 1 {
		return fmt.Errorf("config: epoch_overlap must be in [0,1), got %v", c.Features.EpochOverlap)
	}
	if len(c.Features.Bands) == 0 {
		return fmt.Errorf("config: at least one frequency band is required")
	}
	for _, b := range c.Features.Bands {
		if b.Low >= b.High {
			return fmt.Errorf("config: band %s has low %v >= high %v", b.Name, b.Low, b.High)
		}
	}
	if c.Training.CVFolds < 2 {
		return fmt.Errorf("config: cv_folds must be >= 2, got %d", c.Training.CVFolds)
	}
	if c.Training.TestSplit <= 0 || c.Training.TestSplit >= 1 {
		return fmt.Errorf("config: test_split must be in (0,1), got %v", c.Training.TestSplit)
	}
	if c.Realtime.BufferSeconds <= 0 {
		return fmt.Errorf("config: realtime buffer_seconds must be positive")
	}
	if c.Realtime.HopSeconds <= 0 {
		return fmt.Errorf("config: realtime hop_seconds must be positive")
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("config: storage root is required")
	}
	return nil
}
