// Package studies builds the table of labelled chest X-ray images used for
// training: it joins the image-level and study-level CSVs, removes ambiguous
// studies, assigns cross-validation folds and optionally rebalances classes.
package studies

// Class is one of the four mutually exclusive study-level findings.
type Class int

const (
	Negative Class = iota
	Typical
	Indeterminate
	Atypical

	// NumClasses is the length of every label vector.
	NumClasses = 4
)

// Classes lists all classes in label vector order.
var Classes = [NumClasses]Class{Negative, Typical, Indeterminate, Atypical}

// ColumnNames are the study-level CSV column names, in label vector order.
var ColumnNames = [NumClasses]string{
	"Negative for Pneumonia",
	"Typical Appearance",
	"Indeterminate Appearance",
	"Atypical Appearance",
}

func (c Class) String() string {
	switch c {
	case Negative:
		return "Negative"
	case Typical:
		return "Typical"
	case Indeterminate:
		return "Indeterminate"
	case Atypical:
		return "Atypical"
	}
	return "Unknown"
}

// Record is one image with the labels of its study and its fold.
type Record struct {
	// ImageID as stored in the image-level CSV, e.g. "000a312787f2_image".
	ImageID string
	// StudyID with the "_study" suffix removed.
	StudyID string
	// Classes holds the four indicator values in Classes order.
	Classes [NumClasses]float32
	// Fold in [0, K). Assigned by Build.
	Fold int
}

// Label returns the label vector of the record. With smooth > 0 every value
// is clamped into [smooth, 1-smooth], otherwise the values are returned as is.
func (r Record) Label(smooth float32) [NumClasses]float32 {
	label := r.Classes
	if smooth <= 0 {
		return label
	}
	for i, v := range label {
		label[i] = min(max(v, smooth), 1-smooth)
	}
	return label
}

// Is reports whether the record's study is labelled with class c.
func (r Record) Is(c Class) bool {
	return r.Classes[c] == 1
}

// Table is an immutable, ordered collection of records. It is safe for
// concurrent use.
type Table struct {
	records []Record
}

// NewTable returns a table holding a copy of records.
func NewTable(records []Record) *Table {
	return &Table{records: append([]Record(nil), records...)}
}

// Len returns the number of records.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.records)
}

// At returns the i-th record.
func (t *Table) At(i int) Record {
	return t.records[i]
}

// Records returns a copy of all records.
func (t *Table) Records() []Record {
	return append([]Record(nil), t.records...)
}

// Filter returns a new table with the records for which keep returns true.
func (t *Table) Filter(keep func(Record) bool) *Table {
	out := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return &Table{records: out}
}

// ClassCounts counts the records labelled with each class.
func (t *Table) ClassCounts() [NumClasses]int {
	var counts [NumClasses]int
	for _, r := range t.records {
		for _, c := range Classes {
			if r.Is(c) {
				counts[c]++
			}
		}
	}
	return counts
}

// FoldCounts counts records per fold for a table with numFolds folds.
func (t *Table) FoldCounts(numFolds int) []int {
	counts := make([]int, numFolds)
	for _, r := range t.records {
		if r.Fold >= 0 && r.Fold < numFolds {
			counts[r.Fold]++
		}
	}
	return counts
}
