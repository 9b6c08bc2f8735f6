package studies

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// ImageLevelFile and StudyLevelFile are the CSV names expected in the data directory.
	ImageLevelFile = "train_image_level.csv"
	StudyLevelFile = "train_study_level.csv"

	idColumn    = "id"
	studyColumn = "StudyInstanceUID"

	// StudySuffix is stripped from study-level ids to match StudyInstanceUID.
	StudySuffix = "_study"
)

// ErrMissingColumn is returned (wrapped) when a CSV lacks a required column.
var ErrMissingColumn = errors.New("required column not found")

// ImageRow is one row of the image-level CSV.
type ImageRow struct {
	ID      string
	StudyID string
}

// StudyRow is one row of the study-level CSV, with the id already normalized.
type StudyRow struct {
	StudyID string
	Classes [NumClasses]float32
}

// columnIndex maps normalized header names to their position.
func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[normalizeColumn(col)] = i
	}
	return idx
}

func normalizeColumn(col string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))
}

func requireColumns(idx map[string]int, source string, cols ...string) ([]int, error) {
	out := make([]int, len(cols))
	for i, col := range cols {
		pos, ok := idx[normalizeColumn(col)]
		if !ok {
			return nil, errors.Wrapf(ErrMissingColumn, "%s: column %q", source, col)
		}
		out[i] = pos
	}
	return out, nil
}

func parseFloat32(s string) (float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty string")
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	return float32(v), nil
}

// ParseImageLevel reads image-level rows from r. Only the id and
// StudyInstanceUID columns are used; the rest are ignored.
func ParseImageLevel(r io.Reader, source string) ([]ImageRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to read header", source)
	}
	cols, err := requireColumns(columnIndex(header), source, idColumn, studyColumn)
	if err != nil {
		return nil, err
	}
	idCol, studyCol := cols[0], cols[1]

	var rows []ImageRow
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "%s: line %d", source, line)
		}
		if idCol >= len(record) || studyCol >= len(record) {
			return nil, errors.Errorf("%s: line %d has %d fields", source, line, len(record))
		}
		rows = append(rows, ImageRow{
			ID:      strings.TrimSpace(record[idCol]),
			StudyID: strings.TrimSpace(record[studyCol]),
		})
	}
	return rows, nil
}

// ParseStudyLevel reads study-level rows from r, stripping StudySuffix from
// the ids.
func ParseStudyLevel(r io.Reader, source string) ([]StudyRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to read header", source)
	}
	wanted := append([]string{idColumn}, ColumnNames[:]...)
	cols, err := requireColumns(columnIndex(header), source, wanted...)
	if err != nil {
		return nil, err
	}

	var rows []StudyRow
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "%s: line %d", source, line)
		}
		for _, c := range cols {
			if c >= len(record) {
				return nil, errors.Errorf("%s: line %d has %d fields", source, line, len(record))
			}
		}
		row := StudyRow{StudyID: strings.TrimSuffix(strings.TrimSpace(record[cols[0]]), StudySuffix)}
		for i := range NumClasses {
			v, err := parseFloat32(record[cols[i+1]])
			if err != nil {
				return nil, errors.Wrapf(err, "%s: line %d: failed to parse %q", source, line, ColumnNames[i])
			}
			row.Classes[i] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadImageLevel reads the image-level CSV at path.
func ReadImageLevel(path string) ([]ImageRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image-level CSV")
	}
	defer f.Close()
	return ParseImageLevel(f, filepath.Base(path))
}

// ReadStudyLevel reads the study-level CSV at path.
func ReadStudyLevel(path string) ([]StudyRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open study-level CSV")
	}
	defer f.Close()
	return ParseStudyLevel(f, filepath.Base(path))
}

// ReadDir reads both CSVs from a data directory.
func ReadDir(dataDir string) ([]ImageRow, []StudyRow, error) {
	images, err := ReadImageLevel(filepath.Join(dataDir, ImageLevelFile))
	if err != nil {
		return nil, nil, err
	}
	studyRows, err := ReadStudyLevel(filepath.Join(dataDir, StudyLevelFile))
	if err != nil {
		return nil, nil, err
	}
	return images, studyRows, nil
}
