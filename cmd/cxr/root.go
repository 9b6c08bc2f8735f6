package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Noofbiz/chestxray/augment"
	"github.com/Noofbiz/chestxray/config"
	"github.com/Noofbiz/chestxray/datasets"
	"github.com/Noofbiz/chestxray/logging"
)

// app carries what every subcommand needs once the root command has loaded
// the configuration.
type app struct {
	v          *viper.Viper
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"data-dir":           "data_dir",
	"image-size":         "image_size",
	"fold-index":         "fold_index",
	"num-folds":          "num_folds",
	"seed":               "seed",
	"batch-size":         "batch_size",
	"num-workers":        "num_workers",
	"augment-class":      "augment_class",
	"with-masks":         "with_masks",
	"strict-annotations": "strict_annotations",
	"label-smoothing":    "label_smoothing",
	"log-level":          "log.level",
	"log-dev":            "log.development",
}

func rootCommand(a *app) *cobra.Command {
	a.v = config.New()

	rootCmd := &cobra.Command{
		Use:           "cxr",
		Short:         "Chest X-ray data pipeline tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	setupFlags(rootCmd.PersistentFlags(), a)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := bindFlags(a.v, cmd.Flags()); err != nil {
			return err
		}
		return a.initialize()
	}

	rootCmd.AddCommand(
		splitCommand(a),
		verifyCommand(a),
		previewCommand(a),
		probeCommand(a),
	)
	return rootCmd
}

// setupFlags defines the flags shared by all subcommands. Their defaults are
// only informative: unset flags do not override the config file.
func setupFlags(flags *pflag.FlagSet, a *app) {
	flags.StringVarP(&a.configPath, "config", "c", "", "Config file (default ./cxr.yaml if present)")
	flags.String("data-dir", "data", "Directory holding train/ and the CSV files")
	flags.Int("image-size", 768, "Side of the square images fed to the model, 0 keeps the source size")
	flags.Int("fold-index", 1, "Validation fold")
	flags.Int("num-folds", 5, "Number of cross-validation folds")
	flags.Int64("seed", 52, "Seed for the fold shuffle and the loaders, 0 for time-based")
	flags.Int("batch-size", 3, "Training batch size")
	flags.Int("num-workers", 2, "Goroutines loading the samples of a batch")
	flags.Bool("augment-class", false, "Rebalance the training split per class")
	flags.Bool("with-masks", true, "Load opacity masks")
	flags.Bool("strict-annotations", false, "Fail on malformed annotation files")
	flags.Float64("label-smoothing", 0.1, "Clamp training labels into [s, 1-s]")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.Bool("log-dev", false, "Human friendly colored logs")
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "error binding flag %s", name)
		}
	}
	return nil
}

// initialize loads the configuration and builds the logger.
func (a *app) initialize() error {
	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	logger.Debug("configuration loaded", zap.Any("config", cfg))
	return nil
}

// newModule builds the data module with the default train and eval
// augmentation pipelines.
func (a *app) newModule() (*datasets.Module, error) {
	return datasets.NewModule(a.cfg,
		augment.Train(a.cfg.ImageSize, a.cfg.Seed),
		augment.Eval(a.cfg.ImageSize),
		a.logger)
}

// loader returns the loader of the named split.
func (a *app) loader(m *datasets.Module, split string) (*datasets.Loader, error) {
	switch split {
	case "train":
		return m.TrainLoader()
	case "valid":
		return m.ValidLoader()
	case "test":
		return m.TestLoader()
	}
	return nil, errors.Errorf("unknown split %q, want train, valid or test", split)
}

func (a *app) sync() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
