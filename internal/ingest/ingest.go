// Package ingest reads profile metadata and vectors from bulk files.
package ingest

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"

	"github.com/hrygo/jcp/plugin/vector"
	"github.com/hrygo/jcp/store"
)

// profileRow is the parquet layout of the profiles table.
type profileRow struct {
	ID               string   `parquet:"id"`
	Dataset          *string  `parquet:"dataset,optional"`
	Name             *string  `parquet:"name,optional"`
	PerturbationType *string  `parquet:"perturbation_type,optional"`
	Plate            *string  `parquet:"plate,optional"`
	Well             *string  `parquet:"well,optional"`
	Batch            *string  `parquet:"batch,optional"`
	CellLine         *string  `parquet:"cell_line,optional"`
	Timepoint        *string  `parquet:"timepoint,optional"`
	PCAX             *float64 `parquet:"pca_x,optional"`
	PCAY             *float64 `parquet:"pca_y,optional"`
	UMAPX            *float64 `parquet:"umap_x,optional"`
	UMAPY            *float64 `parquet:"umap_y,optional"`
}

// vectorRow is the parquet layout of an id/vector file.
type vectorRow struct {
	ID     string    `parquet:"id"`
	Vector []float32 `parquet:"vector,list"`
}

// ReadProfiles loads profile rows from a .parquet or .csv file.
func ReadProfiles(path string) ([]*store.CellProfile, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return readProfilesParquet(path)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %s", path)
		}
		defer f.Close()
		return ReadProfilesCSV(f)
	default:
		return nil, errors.Errorf("unsupported metadata file %s, expected .parquet or .csv", path)
	}
}

func readProfilesParquet(path string) ([]*store.CellProfile, error) {
	rows, err := parquet.ReadFile[profileRow](path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read parquet file %s", path)
	}
	out := make([]*store.CellProfile, 0, len(rows))
	for i, r := range rows {
		if r.ID == "" {
			return nil, errors.Errorf("%s: row %d has an empty id", path, i)
		}
		out = append(out, &store.CellProfile{
			ID:               r.ID,
			Dataset:          deref(r.Dataset),
			Name:             deref(r.Name),
			PerturbationType: deref(r.PerturbationType),
			Plate:            deref(r.Plate),
			Well:             deref(r.Well),
			Batch:            deref(r.Batch),
			CellLine:         deref(r.CellLine),
			Timepoint:        deref(r.Timepoint),
			PCAX:             r.PCAX,
			PCAY:             r.PCAY,
			UMAPX:            r.UMAPX,
			UMAPY:            r.UMAPY,
		})
	}
	return out, nil
}

// WriteProfilesParquet writes rows in the layout ReadProfiles expects.
func WriteProfilesParquet(path string, profiles []*store.CellProfile) error {
	rows := make([]profileRow, len(profiles))
	for i, p := range profiles {
		rows[i] = profileRow{
			ID:               p.ID,
			Dataset:          ref(p.Dataset),
			Name:             ref(p.Name),
			PerturbationType: ref(p.PerturbationType),
			Plate:            ref(p.Plate),
			Well:             ref(p.Well),
			Batch:            ref(p.Batch),
			CellLine:         ref(p.CellLine),
			Timepoint:        ref(p.Timepoint),
			PCAX:             p.PCAX,
			PCAY:             p.PCAY,
			UMAPX:            p.UMAPX,
			UMAPY:            p.UMAPY,
		}
	}
	return errors.Wrapf(parquet.WriteFile(path, rows), "failed to write %s", path)
}

// ReadProfilesCSV parses a CSV with a header row naming profile columns.
// Unknown columns are ignored and empty cells read as NULL.
func ReadProfilesCSV(r io.Reader) ([]*store.CellProfile, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read csv header")
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := index["id"]; !ok {
		return nil, errors.New("csv header has no id column")
	}

	var out []*store.CellProfile
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read csv line %d", line)
		}
		cell := func(col string) string {
			if i, ok := index[col]; ok && i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}
		number := func(col string) (*float64, error) {
			raw := cell(col)
			if raw == "" {
				return nil, nil
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d: invalid %s", line, col)
			}
			return &v, nil
		}

		p := &store.CellProfile{
			ID:               cell("id"),
			Dataset:          cell("dataset"),
			Name:             cell("name"),
			PerturbationType: cell("perturbation_type"),
			Plate:            cell("plate"),
			Well:             cell("well"),
			Batch:            cell("batch"),
			CellLine:         cell("cell_line"),
			Timepoint:        cell("timepoint"),
		}
		if p.ID == "" {
			return nil, errors.Errorf("line %d: empty id", line)
		}
		for col, dst := range map[string]**float64{"pca_x": &p.PCAX, "pca_y": &p.PCAY, "umap_x": &p.UMAPX, "umap_y": &p.UMAPY} {
			if *dst, err = number(col); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// ReadVectors loads id/vector records from a parquet file. All vectors must
// share one dimension.
func ReadVectors(path string) ([]vector.Record, error) {
	if strings.ToLower(filepath.Ext(path)) != ".parquet" {
		return nil, errors.Errorf("unsupported vector file %s, expected .parquet", path)
	}
	rows, err := parquet.ReadFile[vectorRow](path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read parquet file %s", path)
	}

	out := make([]vector.Record, 0, len(rows))
	for i, r := range rows {
		if r.ID == "" {
			return nil, errors.Errorf("%s: row %d has an empty id", path, i)
		}
		if len(r.Vector) == 0 || (len(out) > 0 && len(r.Vector) != len(out[0].Vector)) {
			return nil, errors.Errorf("%s: row %d (%s) has dimension %d", path, i, r.ID, len(r.Vector))
		}
		out = append(out, vector.Record{ID: r.ID, Vector: r.Vector})
	}
	return out, nil
}

// WriteVectors writes records in the layout ReadVectors expects.
func WriteVectors(path string, records []vector.Record) error {
	rows := make([]vectorRow, len(records))
	for i, r := range records {
		rows[i] = vectorRow{ID: r.ID, Vector: r.Vector}
	}
	return errors.Wrapf(parquet.WriteFile(path, rows), "failed to write %s", path)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
