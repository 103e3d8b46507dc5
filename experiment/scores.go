package experiment

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

// Score is one row of the results table
type Score struct {
	Fraction float64
	EBM      float64
	ASW      float64
	ARI      float64
	NMI      float64
}

func (s Score) String() string {
	return fmt.Sprintf("[%v, %v, %v, %v, %v]", s.Fraction, s.EBM, s.ASW, s.ARI, s.NMI)
}

// DataPath returns ./data/{name}/{name}_count.h5ad or ..._normalized.h5ad
// under dataDir.
func DataPath(dataDir, name string, count bool) string {
	return filepath.Join(dataDir, name, name+"_"+dataKind(count)+".h5ad")
}

// ScoresFilename encodes the freeze and count flags, e.g.
// scores_Freezed_count.log or scores_UnFreezed_normalized.log.
func ScoresFilename(freeze, count bool) string {
	return "scores_" + freezeMode(freeze) + "_" + dataKind(count) + ".log"
}

func freezeMode(freeze bool) string {
	if freeze {
		return "Freezed"
	}
	return "UnFreezed"
}

func dataKind(count bool) string {
	if count {
		return "count"
	}
	return "normalized"
}

// sciFloat formats like numpy's savetxt default, %.18e
type sciFloat float64

func (f sciFloat) MarshalCSV() (string, error) {
	return strconv.FormatFloat(float64(f), 'e', 18, 64), nil
}

func (f *sciFloat) UnmarshalCSV(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = sciFloat(v)
	return nil
}

type scoreRow struct {
	Fraction sciFloat `csv:"fraction"`
	EBM      sciFloat `csv:"ebm"`
	ASW      sciFloat `csv:"asw"`
	ARI      sciFloat `csv:"ari"`
	NMI      sciFloat `csv:"nmi"`
}

// WriteScores writes one comma-delimited row per score with no header
func WriteScores(path string, scores []Score) error {
	rows := make([]*scoreRow, len(scores))
	for i, s := range scores {
		rows[i] = &scoreRow{
			Fraction: sciFloat(s.Fraction),
			EBM:      sciFloat(s.EBM),
			ASW:      sciFloat(s.ASW),
			ARI:      sciFloat(s.ARI),
			NMI:      sciFloat(s.NMI),
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create scores file")
	}
	defer f.Close()
	if err := gocsv.MarshalWithoutHeaders(&rows, f); err != nil {
		return errors.Wrapf(err, "failed to write scores to %s", path)
	}
	return nil
}

// ReadScores reads a file written by WriteScores
func ReadScores(path string) ([]Score, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open scores file")
	}
	defer f.Close()

	var rows []*scoreRow
	if err := gocsv.UnmarshalWithoutHeaders(f, &rows); err != nil {
		return nil, errors.Wrapf(err, "failed to read scores from %s", path)
	}
	scores := make([]Score, len(rows))
	for i, r := range rows {
		scores[i] = Score{
			Fraction: float64(r.Fraction),
			EBM:      float64(r.EBM),
			ASW:      float64(r.ASW),
			ARI:      float64(r.ARI),
			NMI:      float64(r.NMI),
		}
	}
	return scores, nil
}
