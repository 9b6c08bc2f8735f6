package annotation

import (
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FieldsPerBox is the number of values describing one box in an annotation file.
const FieldsPerBox = 5

// ErrMalformed is returned (wrapped) when an annotation file does not hold a
// whole number of numeric 5-value groups.
var ErrMalformed = errors.New("malformed annotation")

// Status tells what was found when reading an annotation.
type Status int

const (
	// NoFile means there is no annotation file for the image.
	NoFile Status = iota
	// Empty means the file exists but holds no values.
	Empty
	// Malformed means the file could not be parsed. Result.Err holds the reason.
	Malformed
	// Boxes means the file was parsed into one or more boxes.
	Boxes
)

func (s Status) String() string {
	switch s {
	case NoFile:
		return "no-file"
	case Empty:
		return "empty"
	case Malformed:
		return "malformed"
	case Boxes:
		return "boxes"
	}
	return "unknown"
}

// Result of reading an annotation. Boxes is only populated when Status is Boxes.
type Result struct {
	Status Status
	Boxes  []CenterBox
	Err    error
}

// HasFindings reports whether the annotation describes at least one box.
func (r Result) HasFindings() bool {
	return r.Status == Boxes && len(r.Boxes) > 0
}

// Parse parses the contents of an annotation file.
func Parse(data string) Result {
	fields := strings.Fields(data)
	if len(fields) == 0 {
		return Result{Status: Empty}
	}
	if len(fields)%FieldsPerBox != 0 {
		return Result{
			Status: Malformed,
			Err:    errors.Wrapf(ErrMalformed, "%d values is not a multiple of %d", len(fields), FieldsPerBox),
		}
	}

	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Result{
				Status: Malformed,
				Err:    errors.Wrapf(ErrMalformed, "value #%d %q: %v", i, f, err),
			}
		}
		values[i] = v
	}

	boxes := make([]CenterBox, 0, len(values)/FieldsPerBox)
	for i := 0; i < len(values); i += FieldsPerBox {
		boxes = append(boxes, CenterBox{
			Class: values[i],
			CX:    values[i+1],
			CY:    values[i+2],
			W:     values[i+3],
			H:     values[i+4],
		})
	}
	return Result{Status: Boxes, Boxes: boxes}
}

// ReadFile reads and parses the annotation file at path. A missing file is not
// an error, it yields a NoFile result. Other read failures are reported as
// Malformed so the caller can decide whether they are fatal.
func ReadFile(path string) Result {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{Status: NoFile}
		}
		return Result{
			Status: Malformed,
			Err:    errors.Wrapf(err, "reading annotation %s", path),
		}
	}
	return Parse(string(data))
}
