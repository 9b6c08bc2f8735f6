package datasets

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	// BatchSize is the number of samples per batch, at least 1.
	BatchSize int
	// Shuffle reorders the samples at construction and on every Reset.
	Shuffle bool
	// NumWorkers is the number of goroutines loading the samples of a batch.
	// Zero loads them on the calling goroutine.
	NumWorkers int
	// PinMemory is carried for the consumer: it asks for page-locked host
	// buffers where the accelerator backend supports them.
	PinMemory bool
	// DropLast drops the final batch if it is smaller than BatchSize.
	DropLast bool
	// Seed for the shuffle. Zero means time-based.
	Seed int64
}

// Loader iterates over a Dataset in batches. Samples of one batch are loaded
// concurrently by up to NumWorkers goroutines, and always come back in the
// epoch's order.
//
// Loader implements gomlx's train.Dataset: Yield returns the next batch as
// tensors, and io.EOF at the end of the epoch.
type Loader struct {
	ds     Dataset
	cfg    LoaderConfig
	logger *zap.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	order []int
	next  int
}

// NewLoader creates a loader over ds, already positioned at the start of an
// epoch.
func NewLoader(ds Dataset, cfg LoaderConfig, logger *zap.Logger) (*Loader, error) {
	if cfg.BatchSize < 1 {
		return nil, errors.Errorf("loader %s: batch size must be >= 1, got %d", ds.Name(), cfg.BatchSize)
	}
	if cfg.NumWorkers < 0 {
		return nil, errors.Errorf("loader %s: number of workers must be >= 0, got %d", ds.Name(), cfg.NumWorkers)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	l := &Loader{
		ds:     ds,
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
		order:  make([]int, ds.Len()),
	}
	for i := range l.order {
		l.order[i] = i
	}
	l.Reset()
	return l, nil
}

// Name implements train.Dataset.
func (l *Loader) Name() string {
	return l.ds.Name()
}

// Dataset returns the underlying dataset.
func (l *Loader) Dataset() Dataset {
	return l.ds
}

// Config returns the loader configuration.
func (l *Loader) Config() LoaderConfig {
	return l.cfg
}

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	n := l.ds.Len()
	if l.cfg.DropLast {
		return n / l.cfg.BatchSize
	}
	return (n + l.cfg.BatchSize - 1) / l.cfg.BatchSize
}

// Reset implements train.Dataset: it starts a new epoch, reshuffling the
// samples if the loader shuffles.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next = 0
	if l.cfg.Shuffle {
		l.rng.Shuffle(len(l.order), func(i, j int) {
			l.order[i], l.order[j] = l.order[j], l.order[i]
		})
	}
}

// nextIndices reserves the dataset indices of the next batch.
func (l *Loader) nextIndices() ([]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	remaining := len(l.order) - l.next
	if remaining <= 0 || (l.cfg.DropLast && remaining < l.cfg.BatchSize) {
		return nil, io.EOF
	}
	n := min(l.cfg.BatchSize, remaining)
	indices := append([]int(nil), l.order[l.next:l.next+n]...)
	l.next += n
	return indices, nil
}

// Next loads the next batch of the epoch. It returns io.EOF once the epoch
// is exhausted. If any sample fails to load, the remaining loads of the batch
// are cancelled and the first error is returned.
func (l *Loader) Next(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	indices, err := l.nextIndices()
	if err != nil {
		return nil, err
	}

	samples := make([]*Sample, len(indices))
	if l.cfg.NumWorkers == 0 {
		for i, idx := range indices {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			s, err := l.ds.Sample(idx)
			if err != nil {
				return nil, errors.WithMessagef(err, "loader %s", l.Name())
			}
			samples[i] = s
		}
		return &Batch{Indices: indices, Samples: samples}, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(l.cfg.NumWorkers, len(indices)))
	for i, idx := range indices {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := l.ds.Sample(idx)
			if err != nil {
				return err
			}
			samples[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.WithMessagef(err, "loader %s", l.Name())
	}
	return &Batch{Indices: indices, Samples: samples}, nil
}

// ForEach calls fn on every remaining batch of the current epoch.
func (l *Loader) ForEach(ctx context.Context, fn func(*Batch) error) error {
	for {
		b, err := l.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
	}
}

// Yield implements train.Dataset. inputs holds the images and, for datasets
// with masks, the masks; labels holds the label vectors.
func (l *Loader) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	b, err := l.Next(context.Background())
	if err != nil {
		return nil, nil, nil, err
	}
	flat, err := b.Flat()
	if err != nil {
		return nil, nil, nil, errors.WithMessagef(err, "loader %s", l.Name())
	}
	images, labelsT, masks, err := flat.ToGomlxTensors()
	if err != nil {
		return nil, nil, nil, err
	}
	inputs = []*tensors.Tensor{images}
	if masks != nil {
		inputs = append(inputs, masks)
	}
	l.logger.Debug("yielded batch",
		zap.String("dataset", l.Name()),
		zap.Int("size", flat.BatchSize),
		zap.Uint64("bytes", flat.Bytes()))
	return nil, inputs, []*tensors.Tensor{labelsT}, nil
}
