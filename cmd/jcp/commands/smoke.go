package commands

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/jcp/server/service/search"
	"github.com/hrygo/jcp/store"
)

// smokePreview is how many ids and rows the smoke report shows.
const smokePreview = 5

var (
	smokeID      string
	smokeDataset string
	smokeK       int
)

// SmokeReport is the result of one smoke run.
type SmokeReport struct {
	Dataset  string               `json:"dataset" yaml:"dataset"`
	QueryID  string               `json:"query_id" yaml:"query_id"`
	K        int                  `json:"k" yaml:"k"`
	TopIDs   []string             `json:"top_ids" yaml:"top_ids"`
	RowCount int                  `json:"row_count" yaml:"row_count"`
	Rows     []*store.CellProfile `json:"rows" yaml:"rows"`
}

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Run one end-to-end search",
	Long: `Fetch the vector of a profile id, search its nearest neighbors and
join their metadata. Defaults come from SMOKE_QUERY_ID, SMOKE_DATASET and
SMOKE_K.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := GetProfile()
		if err != nil {
			return err
		}
		id := firstNonEmpty(smokeID, p.SmokeQueryID)
		if id == "" {
			return errors.New("no query id; pass --id or set SMOKE_QUERY_ID in your .env to a real profile id, e.g.\n" +
				"SMOKE_QUERY_ID=demo_0\nSMOKE_DATASET=orf\nSMOKE_K=10")
		}
		dataset := firstNonEmpty(smokeDataset, p.SmokeDataset)
		k := smokeK
		if k <= 0 {
			k = p.SmokeK
		}

		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer closeQuietly("metadata store", s)
		vectors, _, err := openVectors(ctx)
		if err != nil {
			return err
		}
		defer closeQuietly("vector service", vectors)

		out := cmd.OutOrStdout()
		if formatOutput == "table" || formatOutput == "" {
			fmt.Fprintf(out, "Smoke test: dataset=%s, query_id=%s, k=%d\n", dataset, id, k)
		}

		svc := search.NewService(vectors, s, search.WithMaxK(max(k, p.MaxTopK)))
		resp, err := svc.Search(ctx, search.Request{Dataset: dataset, QueryID: id, K: k})
		if err != nil {
			return err
		}
		report := newSmokeReport(resp)

		if done, err := printStructured(out, report); done {
			return err
		}
		fmt.Fprintf(out, "Top IDs: %v\n", report.TopIDs)
		fmt.Fprintf(out, "\nMetadata rows fetched: %d\n", report.RowCount)
		if len(report.Rows) > 0 {
			fmt.Fprintln(out, profileTable(report.Rows))
		}
		return nil
	},
}

func newSmokeReport(resp *search.Response) *SmokeReport {
	report := &SmokeReport{Dataset: resp.Dataset, QueryID: resp.QueryID, K: resp.K, Rows: []*store.CellProfile{}}
	ids := resp.IDs()
	report.TopIDs = ids[:min(smokePreview, len(ids))]
	for _, r := range resp.Results {
		if !r.HasMetadata {
			continue
		}
		report.RowCount++
		if len(report.Rows) < smokePreview {
			report.Rows = append(report.Rows, r.Profile)
		}
	}
	return report
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func init() {
	smokeCmd.Flags().StringVar(&smokeID, "id", "", "query profile id (default SMOKE_QUERY_ID)")
	smokeCmd.Flags().StringVar(&smokeDataset, "dataset", "", "dataset key (default SMOKE_DATASET)")
	smokeCmd.Flags().IntVar(&smokeK, "k", 0, "number of neighbors (default SMOKE_K)")

	rootCmd.AddCommand(smokeCmd)
}
