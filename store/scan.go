package store

import (
	"database/sql"

	"github.com/pkg/errors"
)

// RowScanner is satisfied by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// ScanCellProfile scans one row selected in CellProfileColumns order.
func ScanCellProfile(row RowScanner) (*CellProfile, error) {
	var (
		p      CellProfile
		strs   [8]sql.NullString
		coords [4]sql.NullFloat64
	)
	err := row.Scan(
		&p.ID,
		&strs[0], &strs[1], &strs[2], &strs[3], &strs[4], &strs[5], &strs[6], &strs[7],
		&coords[0], &coords[1], &coords[2], &coords[3],
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan profile")
	}

	p.Dataset = strs[0].String
	p.Name = strs[1].String
	p.PerturbationType = strs[2].String
	p.Plate = strs[3].String
	p.Well = strs[4].String
	p.Batch = strs[5].String
	p.CellLine = strs[6].String
	p.Timepoint = strs[7].String
	p.PCAX = floatPtr(coords[0])
	p.PCAY = floatPtr(coords[1])
	p.UMAPX = floatPtr(coords[2])
	p.UMAPY = floatPtr(coords[3])
	return &p, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
