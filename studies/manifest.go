package studies

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// ManifestHeader is the header written by WriteManifest.
var ManifestHeader = []string{"id", "StudyInstanceUID", "fold", "split"}

// WriteManifest writes one CSV line per joined record with its fold and the
// split it landed in, so a run's partition can be audited or reproduced.
// Rebalancing repeats are not listed.
func WriteManifest(w io.Writer, split *Split, foldIndex int) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ManifestHeader); err != nil {
		return errors.Wrap(err, "failed to write manifest header")
	}
	for _, r := range split.All.records {
		name := "train"
		if r.Fold == foldIndex {
			name = "valid"
		}
		if err := cw.Write([]string{r.ImageID, r.StudyID, strconv.Itoa(r.Fold), name}); err != nil {
			return errors.Wrapf(err, "failed to write manifest row for %s", r.ImageID)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "failed to flush manifest")
}
