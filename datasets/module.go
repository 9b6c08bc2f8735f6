package datasets

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Noofbiz/chestxray/config"
	"github.com/Noofbiz/chestxray/studies"
)

// Module builds the train, validation and test datasets of one
// cross-validation fold and hands out their loaders.
//
// The test dataset serves the validation fold through the evaluation
// transform. Label smoothing is applied to the training dataset only.
type Module struct {
	cfg    *config.Config
	logger *zap.Logger

	split *studies.Split
	train *CXRDataset
	valid *CXRDataset
	test  *CXRDataset
}

// NewModule reads the CSVs of cfg.DataDir, builds the fold split and the
// three datasets. trainTransform is used by the training dataset,
// evalTransform by the validation and test datasets; nil means Identity.
func NewModule(cfg *config.Config, trainTransform, evalTransform Transform, logger *zap.Logger) (*Module, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	images, studyRows, err := studies.ReadDir(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	split, err := studies.Build(images, studyRows, cfg.StudyOptions(logger))
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to build fold %d of %d", cfg.FoldIndex, cfg.NumFolds)
	}
	return NewModuleFromSplit(cfg, split, trainTransform, evalTransform, logger), nil
}

// NewModuleFromSplit builds the datasets from an existing split.
func NewModuleFromSplit(cfg *config.Config, split *studies.Split, trainTransform, evalTransform Transform, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := CXRConfig{
		DataDir:           cfg.DataDir,
		WithMasks:         cfg.WithMasks,
		StrictAnnotations: cfg.StrictAnnotations,
		Logger:            logger,
	}
	trainCfg := base
	trainCfg.Transform = trainTransform
	trainCfg.LabelSmoothing = float32(cfg.LabelSmoothing)
	evalCfg := base
	evalCfg.Transform = evalTransform

	m := &Module{
		cfg:    cfg,
		logger: logger,
		split:  split,
		train:  NewCXRDataset("train", split.Train, trainCfg),
		valid:  NewCXRDataset("valid", split.Valid, evalCfg),
		test:   NewCXRDataset("test", split.Valid, evalCfg),
	}
	logger.Info("data module ready",
		zap.Int("train", m.train.Len()),
		zap.Int("valid", m.valid.Len()),
		zap.Int("test", m.test.Len()),
		zap.Int64("seed", split.Stats.Seed))
	return m
}

// Split returns the fold split the datasets were built from.
func (m *Module) Split() *studies.Split {
	return m.split
}

// TrainDataset returns the training dataset.
func (m *Module) TrainDataset() *CXRDataset { return m.train }

// ValidDataset returns the validation dataset.
func (m *Module) ValidDataset() *CXRDataset { return m.valid }

// TestDataset returns the test dataset.
func (m *Module) TestDataset() *CXRDataset { return m.test }

// TrainLoader batches the training dataset in table order.
func (m *Module) TrainLoader() (*Loader, error) {
	return NewLoader(m.train, LoaderConfig{
		BatchSize:  m.cfg.BatchSize,
		Shuffle:    false,
		NumWorkers: m.cfg.NumWorkers,
		PinMemory:  true,
		DropLast:   m.cfg.DropLast,
		Seed:       m.loaderSeed(1),
	}, m.logger)
}

// ValidLoader batches the validation dataset shuffled, with twice the batch
// size.
func (m *Module) ValidLoader() (*Loader, error) {
	return NewLoader(m.valid, LoaderConfig{
		BatchSize:  2 * m.cfg.BatchSize,
		Shuffle:    true,
		NumWorkers: m.cfg.NumWorkers,
		PinMemory:  true,
		DropLast:   m.cfg.DropLast,
		Seed:       m.loaderSeed(2),
	}, m.logger)
}

// TestLoader batches the test dataset in table order.
func (m *Module) TestLoader() (*Loader, error) {
	return NewLoader(m.test, LoaderConfig{
		BatchSize:  m.cfg.BatchSize,
		Shuffle:    false,
		NumWorkers: m.cfg.NumWorkers,
		PinMemory:  false,
		DropLast:   m.cfg.DropLast,
		Seed:       m.loaderSeed(3),
	}, m.logger)
}

// loaderSeed derives a distinct, reproducible seed per loader from the
// configured seed. A zero configured seed stays zero (time-based).
func (m *Module) loaderSeed(offset int64) int64 {
	if m.cfg.Seed == 0 {
		return 0
	}
	return m.cfg.Seed + offset
}
