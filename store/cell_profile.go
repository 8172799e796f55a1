package store

import (
	"context"
)

// CellProfile is one row of the profiles metadata table.
// String columns read as NULL surface as empty strings.
type CellProfile struct {
	ID               string   `json:"id" yaml:"id"`
	Dataset          string   `json:"dataset" yaml:"dataset"`
	Name             string   `json:"name" yaml:"name"`
	PerturbationType string   `json:"perturbation_type" yaml:"perturbation_type"`
	Plate            string   `json:"plate" yaml:"plate"`
	Well             string   `json:"well" yaml:"well"`
	Batch            string   `json:"batch" yaml:"batch"`
	CellLine         string   `json:"cell_line" yaml:"cell_line"`
	Timepoint        string   `json:"timepoint" yaml:"timepoint"`
	PCAX             *float64 `json:"pca_x" yaml:"pca_x"`
	PCAY             *float64 `json:"pca_y" yaml:"pca_y"`
	UMAPX            *float64 `json:"umap_x" yaml:"umap_x"`
	UMAPY            *float64 `json:"umap_y" yaml:"umap_y"`
}

// CellProfileColumns is the column order shared by every driver's
// SELECT and INSERT statements.
var CellProfileColumns = []string{
	"id", "dataset", "name", "perturbation_type", "plate", "well", "batch",
	"cell_line", "timepoint", "pca_x", "pca_y", "umap_x", "umap_y",
}

// Args returns the row values in CellProfileColumns order.
func (p *CellProfile) Args() []any {
	return []any{
		p.ID, nullString(p.Dataset), nullString(p.Name), nullString(p.PerturbationType),
		nullString(p.Plate), nullString(p.Well), nullString(p.Batch), nullString(p.CellLine),
		nullString(p.Timepoint), nullFloat(p.PCAX), nullFloat(p.PCAY), nullFloat(p.UMAPX), nullFloat(p.UMAPY),
	}
}

// FindCellProfile selects profile rows. A nil field does not filter.
type FindCellProfile struct {
	ID      *string
	IDs     []string
	Dataset *string
	Limit   *int
}

func (s *Store) UpsertCellProfiles(ctx context.Context, profiles []*CellProfile) error {
	profiles = dedupeByID(profiles)
	if len(profiles) == 0 {
		return nil
	}
	return s.driver.UpsertCellProfiles(ctx, profiles)
}

// GetMetadata returns the rows whose id is in ids, ordered by first
// appearance in ids. Unknown ids are skipped.
func (s *Store) GetMetadata(ctx context.Context, ids []string) ([]*CellProfile, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return []*CellProfile{}, nil
	}

	list, err := s.driver.ListCellProfiles(ctx, &FindCellProfile{IDs: ids})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*CellProfile, len(list))
	for _, p := range list {
		byID[p.ID] = p
	}
	ordered := make([]*CellProfile, 0, len(list))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

// GetOne returns the row with the given id, or nil if there is none.
func (s *Store) GetOne(ctx context.Context, id string) (*CellProfile, error) {
	list, err := s.driver.ListCellProfiles(ctx, &FindCellProfile{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) ListCellProfiles(ctx context.Context, find *FindCellProfile) ([]*CellProfile, error) {
	return s.driver.ListCellProfiles(ctx, find)
}

// CountCellProfiles counts rows, restricted to dataset when it is not empty.
func (s *Store) CountCellProfiles(ctx context.Context, dataset string) (int64, error) {
	return s.driver.CountCellProfiles(ctx, dataset)
}

// dedupeByID keeps the last row for every id, in order of last appearance.
func dedupeByID(profiles []*CellProfile) []*CellProfile {
	last := make(map[string]int, len(profiles))
	for i, p := range profiles {
		if p == nil {
			continue
		}
		last[p.ID] = i
	}
	out := make([]*CellProfile, 0, len(last))
	for i, p := range profiles {
		if p != nil && last[p.ID] == i {
			out = append(out, p)
		}
	}
	return out
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
