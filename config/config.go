// Package config holds the settings of the data pipeline and loads them
// from defaults, an optional YAML file and CXR_* environment variables.
package config

import (
	"errors"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Noofbiz/chestxray/studies"
)

// EnvPrefix prefixes the environment variables overriding config keys,
// e.g. CXR_BATCH_SIZE or CXR_LOG_LEVEL.
const EnvPrefix = "CXR"

// Config is the full configuration of the data pipeline.
type Config struct {
	// DataDir holds train/, train_image_level.csv and train_study_level.csv.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// ImageSize is the side of the square images produced by the transforms.
	// Zero keeps the source resolution.
	ImageSize int `mapstructure:"image_size" yaml:"image_size"`

	FoldIndex int `mapstructure:"fold_index" yaml:"fold_index"`
	NumFolds  int `mapstructure:"num_folds" yaml:"num_folds"`
	// Seed drives the fold shuffle and the loaders. Zero means time-based.
	Seed int64 `mapstructure:"seed" yaml:"seed"`
	// Unmatched is "drop" or "error", see studies.UnmatchedPolicy.
	Unmatched string `mapstructure:"unmatched" yaml:"unmatched"`

	BatchSize         int  `mapstructure:"batch_size" yaml:"batch_size"`
	NumWorkers        int  `mapstructure:"num_workers" yaml:"num_workers"`
	DropLast          bool `mapstructure:"drop_last" yaml:"drop_last"`
	WithMasks         bool `mapstructure:"with_masks" yaml:"with_masks"`
	StrictAnnotations bool `mapstructure:"strict_annotations" yaml:"strict_annotations"`

	// LabelSmoothing applies to the training split only.
	LabelSmoothing      float64 `mapstructure:"label_smoothing" yaml:"label_smoothing"`
	AugmentClass        bool    `mapstructure:"augment_class" yaml:"augment_class"`
	ClassMultiplicities []int   `mapstructure:"class_multiplicities" yaml:"class_multiplicities"`

	Log LogConfig `mapstructure:"log" yaml:"log"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// New returns a viper instance with defaults and environment overrides set
// up. Flags can be bound to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaultConfig(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path into v, or looks for cxr.yaml in the
// working directory if path is empty, and returns the validated settings.
// A missing cxr.yaml is not an error; a missing explicit path is.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cxr")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, pkgerrors.Wrap(err, "error reading config file")
		}
	}

	settings := &Config{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, pkgerrors.Wrap(err, "error unmarshaling config into struct")
	}
	if err := settings.Validate(); err != nil {
		return nil, pkgerrors.WithMessage(err, "error validating settings")
	}
	return settings, nil
}

// Validate checks every value for range errors.
func (c *Config) Validate() error {
	switch {
	case c.NumFolds < 2:
		return pkgerrors.Errorf("num_folds must be >= 2, got %d", c.NumFolds)
	case c.FoldIndex < 0 || c.FoldIndex >= c.NumFolds:
		return pkgerrors.Errorf("fold_index must be in [0, %d), got %d", c.NumFolds, c.FoldIndex)
	case c.BatchSize < 1:
		return pkgerrors.Errorf("batch_size must be >= 1, got %d", c.BatchSize)
	case c.NumWorkers < 0:
		return pkgerrors.Errorf("num_workers must be >= 0, got %d", c.NumWorkers)
	case c.LabelSmoothing < 0 || c.LabelSmoothing >= 0.5:
		return pkgerrors.Errorf("label_smoothing must be in [0, 0.5), got %g", c.LabelSmoothing)
	case c.ImageSize < 0:
		return pkgerrors.Errorf("image_size must be >= 0, got %d", c.ImageSize)
	case len(c.ClassMultiplicities) != studies.NumClasses:
		return pkgerrors.Errorf("class_multiplicities must have %d values, got %d",
			studies.NumClasses, len(c.ClassMultiplicities))
	}
	for i, m := range c.ClassMultiplicities {
		if m < 0 {
			return pkgerrors.Errorf("class_multiplicities[%d] must be >= 0, got %d", i, m)
		}
	}
	switch studies.UnmatchedPolicy(c.Unmatched) {
	case studies.UnmatchedDrop, studies.UnmatchedError:
	default:
		return pkgerrors.Errorf("unmatched must be %q or %q, got %q",
			studies.UnmatchedDrop, studies.UnmatchedError, c.Unmatched)
	}
	return nil
}

// Multiplicities returns ClassMultiplicities as a fixed size array. Call
// Validate first.
func (c *Config) Multiplicities() [studies.NumClasses]int {
	var m [studies.NumClasses]int
	copy(m[:], c.ClassMultiplicities)
	return m
}

// StudyOptions returns the options for studies.Build.
func (c *Config) StudyOptions(logger *zap.Logger) studies.Options {
	return studies.Options{
		NumFolds:       c.NumFolds,
		FoldIndex:      c.FoldIndex,
		Seed:           c.Seed,
		Unmatched:      studies.UnmatchedPolicy(c.Unmatched),
		Rebalance:      c.AugmentClass,
		Multiplicities: c.Multiplicities(),
		Logger:         logger,
	}
}
