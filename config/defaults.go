package config

import "github.com/spf13/viper"

// setDefaultConfig registers a default for every key, so that environment
// variables are picked up by Unmarshal for all of them.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("image_size", 768)

	// Cross-validation
	v.SetDefault("fold_index", 1)
	v.SetDefault("num_folds", 5)
	v.SetDefault("seed", 52)
	v.SetDefault("unmatched", "drop")

	// Loading
	v.SetDefault("batch_size", 3)
	v.SetDefault("num_workers", 2)
	v.SetDefault("drop_last", false)
	v.SetDefault("with_masks", true)
	v.SetDefault("strict_annotations", false)

	// Labels
	v.SetDefault("label_smoothing", 0.1)
	v.SetDefault("augment_class", false)
	v.SetDefault("class_multiplicities", []int{2, 1, 3, 6})

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}
