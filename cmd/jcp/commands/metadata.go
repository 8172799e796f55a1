package commands

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/jcp/internal/ingest"
	"github.com/hrygo/jcp/store"
)

var (
	schemaPath   string
	seedCount    int
	metadataFile string
)

var initSchemaCmd = &cobra.Command{
	Use:   "init-schema",
	Short: "Create the metadata schema",
	Long: `Run the schema file against the metadata store. Without --schema the
METADATA_SCHEMA_PATH file is used, or the built-in schema when unset.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, p, err := openStore()
		if err != nil {
			return err
		}
		defer closeQuietly("metadata store", s)

		path := schemaPath
		if path == "" {
			path = p.MetadataSchemaPath
		}
		if err := s.InitSchema(cmd.Context(), path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Metadata schema initialized (%s).\n", p.MetadataBackend)
		return nil
	},
}

var seedMetadataCmd = &cobra.Command{
	Use:   "seed-metadata",
	Short: "Insert demo metadata rows demo_0..demo_<count-1>",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedCount <= 0 {
			return errors.Errorf("--count must be positive, got %d", seedCount)
		}
		s, p, err := openStore()
		if err != nil {
			return err
		}
		defer closeQuietly("metadata store", s)

		ctx := cmd.Context()
		if err := s.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := s.UpsertCellProfiles(ctx, demoProfiles(seedCount)); err != nil {
			return errors.Wrap(err, "failed to insert demo metadata")
		}
		total, err := s.CountCellProfiles(ctx, "orf")
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Inserted %d demo metadata rows into %s (%d orf rows in total).\n", seedCount, p.MetadataBackend, total)
		return nil
	},
}

var ingestMetadataCmd = &cobra.Command{
	Use:   "ingest-metadata",
	Short: "Load metadata rows from a .parquet or .csv file",
	Long: `Upsert every row of the file into the metadata store. Columns are
matched by name; unknown columns are ignored and rows replace existing rows
with the same id.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		profiles, err := ingest.ReadProfiles(metadataFile)
		if err != nil {
			return err
		}
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer closeQuietly("metadata store", s)

		ctx := cmd.Context()
		if err := s.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := s.UpsertCellProfiles(ctx, profiles); err != nil {
			return errors.Wrapf(err, "failed to ingest %s", metadataFile)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d metadata rows from %s.\n", len(profiles), metadataFile)
		return nil
	},
}

var getProfileCmd = &cobra.Command{
	Use:   "get-profile <id>",
	Short: "Print one metadata row",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer closeQuietly("metadata store", s)

		p, err := s.GetOne(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if p == nil {
			return errors.Errorf("profile not found: %s", args[0])
		}
		if done, err := printStructured(cmd.OutOrStdout(), p); done {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), profileTable([]*store.CellProfile{p}))
		return nil
	},
}

// demoProfiles builds the fixed demo rows demo_0..demo_(n-1).
func demoProfiles(n int) []*store.CellProfile {
	profiles := make([]*store.CellProfile, n)
	for i := range profiles {
		profiles[i] = &store.CellProfile{
			ID:               fmt.Sprintf("demo_%d", i),
			Dataset:          "orf",
			Name:             fmt.Sprintf("DemoGene%d", i),
			PerturbationType: "demo",
			Plate:            "P1",
			Well:             fmt.Sprintf("A%d", (i%12)+1),
			Batch:            "B1",
			CellLine:         "U2OS",
			Timepoint:        "24h",
		}
	}
	return profiles
}

func init() {
	initSchemaCmd.Flags().StringVar(&schemaPath, "schema", "", "schema file to execute")
	seedMetadataCmd.Flags().IntVar(&seedCount, "count", 50, "number of demo rows")
	ingestMetadataCmd.Flags().StringVarP(&metadataFile, "file", "f", "", "input .parquet or .csv file")
	_ = ingestMetadataCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(initSchemaCmd, seedMetadataCmd, ingestMetadataCmd, getProfileCmd)
}
