package studies

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// UnmatchedPolicy decides what happens to image rows whose study is missing
// from the study-level CSV.
type UnmatchedPolicy string

const (
	// UnmatchedDrop silently drops the rows (inner join), counting them in Stats.
	UnmatchedDrop UnmatchedPolicy = "drop"
	// UnmatchedError makes Build fail on the first unmatched row.
	UnmatchedError UnmatchedPolicy = "error"
)

// ErrUnmatchedStudy is returned (wrapped) by Build under UnmatchedError.
var ErrUnmatchedStudy = errors.New("image row has no matching study")

// DefaultMultiplicities are the per-class repeat counts used to rebalance the
// training split: Negative x2, Typical x1, Indeterminate x3, Atypical x6.
var DefaultMultiplicities = [NumClasses]int{2, 1, 3, 6}

// Options configure Build.
type Options struct {
	// NumFolds is K, the number of folds. Defaults to 5.
	NumFolds int
	// FoldIndex selects the validation fold, in [0, NumFolds).
	FoldIndex int
	// Seed for the shuffle that precedes fold assignment. Zero means a
	// time-based seed, and folds will differ between runs.
	Seed int64
	// Unmatched policy for the join. Defaults to UnmatchedDrop.
	Unmatched UnmatchedPolicy
	// Rebalance repeats training rows per class using Multiplicities.
	Rebalance bool
	// Multiplicities per class, used when Rebalance is set. A zero value
	// means DefaultMultiplicities.
	Multiplicities [NumClasses]int
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Stats describe what Build did to the input rows.
type Stats struct {
	ImageRows        int
	StudyRows        int
	AmbiguousStudies int
	AmbiguousRows    int
	Unmatched        int
	Joined           int
	Train            int
	Valid            int
	// Seed actually used for the shuffle.
	Seed int64
}

// Split is the result of Build.
type Split struct {
	// All holds every joined record, in shuffled order, with its fold.
	All *Table
	// Train holds the records with Fold != FoldIndex, possibly rebalanced.
	Train *Table
	// Valid holds the records with Fold == FoldIndex.
	Valid *Table
	Stats Stats
}

func (o *Options) setDefaults() {
	if o.NumFolds == 0 {
		o.NumFolds = 5
	}
	if o.Unmatched == "" {
		o.Unmatched = UnmatchedDrop
	}
	if o.Multiplicities == [NumClasses]int{} {
		o.Multiplicities = DefaultMultiplicities
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

func (o *Options) validate() error {
	if o.NumFolds < 2 {
		return errors.Errorf("number of folds must be >= 2, got %d", o.NumFolds)
	}
	if o.FoldIndex < 0 || o.FoldIndex >= o.NumFolds {
		return errors.Errorf("fold index %d invalid for %d folds", o.FoldIndex, o.NumFolds)
	}
	switch o.Unmatched {
	case UnmatchedDrop, UnmatchedError:
	default:
		return errors.Errorf("unknown unmatched policy %q", o.Unmatched)
	}
	for i, m := range o.Multiplicities {
		if m < 0 {
			return errors.Errorf("multiplicity for %s must be >= 0, got %d", Classes[i], m)
		}
	}
	return nil
}

// Build turns the raw image-level and study-level rows into train and
// validation tables.
//
// Studies with two or more images are dropped entirely. The remaining images
// are joined with their study labels, shuffled with opts.Seed, and assigned
// fold = position % NumFolds. Records in fold FoldIndex form the validation
// table, all others the training table, which is rebalanced if requested.
func Build(images []ImageRow, studyRows []StudyRow, opts Options) (*Split, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	stats := Stats{ImageRows: len(images), StudyRows: len(studyRows)}

	// 1. Drop ambiguous studies.
	perStudy := make(map[string]int, len(images))
	for _, img := range images {
		perStudy[img.StudyID]++
	}
	for _, n := range perStudy {
		if n >= 2 {
			stats.AmbiguousStudies++
			stats.AmbiguousRows += n
		}
	}
	if stats.AmbiguousStudies > 0 {
		logger.Info("excluded studies with more than one image",
			zap.Int("studies", stats.AmbiguousStudies),
			zap.Int("rows", stats.AmbiguousRows))
	}

	// 2-3. Join on study id.
	labels := make(map[string][NumClasses]float32, len(studyRows))
	for _, s := range studyRows {
		labels[s.StudyID] = s.Classes
	}
	records := make([]Record, 0, len(images)-stats.AmbiguousRows)
	for _, img := range images {
		if perStudy[img.StudyID] >= 2 {
			continue
		}
		classes, ok := labels[img.StudyID]
		if !ok {
			if opts.Unmatched == UnmatchedError {
				return nil, errors.Wrapf(ErrUnmatchedStudy, "image %s, study %s", img.ID, img.StudyID)
			}
			stats.Unmatched++
			continue
		}
		records = append(records, Record{
			ImageID: img.ID,
			StudyID: img.StudyID,
			Classes: classes,
		})
	}
	if stats.Unmatched > 0 {
		logger.Info("dropped image rows without a matching study", zap.Int("rows", stats.Unmatched))
	}
	stats.Joined = len(records)

	// 4-5. Shuffle and assign folds.
	stats.Seed = opts.Seed
	if stats.Seed == 0 {
		stats.Seed = time.Now().UnixNano()
		logger.Warn("no seed configured, fold assignment will not be reproducible",
			zap.Int64("seed", stats.Seed))
	}
	rng := rand.New(rand.NewSource(stats.Seed))
	rng.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})
	AssignFolds(records, opts.NumFolds)

	// 6. Partition.
	all := &Table{records: records}
	train := all.Filter(func(r Record) bool { return r.Fold != opts.FoldIndex })
	valid := all.Filter(func(r Record) bool { return r.Fold == opts.FoldIndex })

	// 7. Rebalance the training split.
	if opts.Rebalance {
		train = Rebalance(train, opts.Multiplicities)
	}
	stats.Train = train.Len()
	stats.Valid = valid.Len()

	logger.Info("built study table",
		zap.Int("joined", stats.Joined),
		zap.Int("train", stats.Train),
		zap.Int("valid", stats.Valid),
		zap.Int("fold_index", opts.FoldIndex),
		zap.Int("num_folds", opts.NumFolds),
		zap.Bool("rebalanced", opts.Rebalance))

	return &Split{All: all, Train: train, Valid: valid, Stats: stats}, nil
}

// AssignFolds sets Fold = position % numFolds on every record, in place.
func AssignFolds(records []Record, numFolds int) {
	for i := range records {
		records[i].Fold = i % numFolds
	}
}

// Rebalance returns a table with, for each class in label order, the records
// of that class repeated multiplicities[class] times. Records are grouped by
// class and not reshuffled. Records without any class set are dropped.
func Rebalance(t *Table, multiplicities [NumClasses]int) *Table {
	total := 0
	counts := t.ClassCounts()
	for c, n := range counts {
		total += n * multiplicities[c]
	}
	out := make([]Record, 0, total)
	for _, c := range Classes {
		group := t.Filter(func(r Record) bool { return r.Is(c) }).records
		for range multiplicities[c] {
			out = append(out, group...)
		}
	}
	return &Table{records: out}
}
