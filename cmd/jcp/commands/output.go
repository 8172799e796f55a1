package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/goccy/go-yaml"

	"github.com/hrygo/jcp/store"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// printStructured writes v as yaml or json. It reports false for the table
// format so the caller can render its own view.
func printStructured(w io.Writer, v any) (bool, error) {
	switch formatOutput {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, err
		}
		_, err = fmt.Fprintln(w, string(data))
		return true, err
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, err
		}
		_, err = fmt.Fprint(w, string(data))
		return true, err
	case "table", "":
		return false, nil
	default:
		return true, fmt.Errorf("unknown output format %q, expected table, yaml or json", formatOutput)
	}
}

var profileHeaders = []string{
	"id", "dataset", "name", "perturbation_type", "plate", "well", "batch",
	"cell_line", "timepoint", "pca_x", "pca_y", "umap_x", "umap_y",
}

func profileRow(p *store.CellProfile) []string {
	return []string{
		p.ID, p.Dataset, p.Name, p.PerturbationType, p.Plate, p.Well, p.Batch,
		p.CellLine, p.Timepoint, formatFloat(p.PCAX), formatFloat(p.PCAY), formatFloat(p.UMAPX), formatFloat(p.UMAPY),
	}
}

func profileTable(profiles []*store.CellProfile) string {
	rows := make([][]string, len(profiles))
	for i, p := range profiles {
		rows[i] = profileRow(p)
	}
	return renderTable(profileHeaders, rows)
}

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

func formatFloat(f *float64) string {
	if f == nil {
		return "NULL"
	}
	return strconv.FormatFloat(*f, 'g', 6, 64)
}
