package commands

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/jcp/internal/ingest"
	"github.com/hrygo/jcp/plugin/vector"
)

// insertBatchSize bounds the records sent in one insert call.
const insertBatchSize = 1000

var (
	vectorDataset string
	vectorDim     int
	vectorCount   int
	vectorSeed    uint64
	vectorFile    string
	vectorDrop    bool
)

var seedVectorsCmd = &cobra.Command{
	Use:   "seed-vectors",
	Short: "Recreate a dataset collection with random demo vectors",
	Long: `Drop the dataset collection if it exists, create it, insert demo_0..demo_<count-1>
with standard normal vectors, flush, build the IVF_FLAT/L2 index with nlist 64
and load it for search.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if vectorDim <= 0 || vectorCount <= 0 {
			return errors.Errorf("--dim and --count must be positive, got %d and %d", vectorDim, vectorCount)
		}
		ctx := cmd.Context()
		svc, _, err := openVectors(ctx)
		if err != nil {
			return err
		}
		defer closeQuietly("vector service", svc)

		name, err := svc.CollectionName(vectorDataset)
		if err != nil {
			return err
		}
		dropped, err := svc.DropCollection(ctx, vectorDataset)
		if err != nil {
			return err
		}
		if dropped {
			fmt.Fprintf(cmd.OutOrStdout(), "Dropped existing collection: %s\n", name)
		}

		seed := vectorSeed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		records := demoRecords(vectorCount, vectorDim, seed)
		if err := buildCollection(cmd, svc, records, vectorDim); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created collection %s, inserted %d rows and built the index.\n", name, len(records))
		return nil
	},
}

var dropCollectionCmd = &cobra.Command{
	Use:   "drop-collection",
	Short: "Drop a dataset collection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, _, err := openVectors(ctx)
		if err != nil {
			return err
		}
		defer closeQuietly("vector service", svc)

		name, err := svc.CollectionName(vectorDataset)
		if err != nil {
			return err
		}
		dropped, err := svc.DropCollection(ctx, vectorDataset)
		if err != nil {
			return err
		}
		if dropped {
			fmt.Fprintf(cmd.OutOrStdout(), "Dropped collection: %s\n", name)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Collection not found: %s\n", name)
		}
		return nil
	},
}

var ingestVectorsCmd = &cobra.Command{
	Use:   "ingest-vectors",
	Short: "Load vectors from a .parquet file",
	Long: `Insert the (id, vector) rows of a parquet file into the dataset
collection. A missing collection is created with the file's dimension and
indexed; --drop recreates an existing one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := ingest.ReadVectors(vectorFile)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return errors.Errorf("no vectors in %s", vectorFile)
		}
		dim := len(records[0].Vector)

		ctx := cmd.Context()
		svc, _, err := openVectors(ctx)
		if err != nil {
			return err
		}
		defer closeQuietly("vector service", svc)

		if vectorDrop {
			if _, err := svc.DropCollection(ctx, vectorDataset); err != nil {
				return err
			}
		}
		exists, err := svc.HasCollection(ctx, vectorDataset)
		if err != nil {
			return err
		}
		if exists {
			col, err := svc.GetCollection(ctx, vectorDataset)
			if err != nil {
				return err
			}
			if col.Dim != dim {
				return errors.Errorf("%s has dimension %d, collection %s has %d", vectorFile, dim, col.Name, col.Dim)
			}
			if err := insertBatches(cmd, svc, records); err != nil {
				return err
			}
			if err := svc.Flush(ctx, vectorDataset); err != nil {
				return err
			}
		} else if err := buildCollection(cmd, svc, records, dim); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d vectors into dataset %s.\n", len(records), vectorDataset)
		return nil
	},
}

// buildCollection creates, fills, indexes and loads the collection of vectorDataset.
func buildCollection(cmd *cobra.Command, svc *vector.Service, records []vector.Record, dim int) error {
	ctx := cmd.Context()
	if err := svc.CreateCollection(ctx, vectorDataset, dim); err != nil {
		return err
	}
	if err := insertBatches(cmd, svc, records); err != nil {
		return err
	}
	if err := svc.Flush(ctx, vectorDataset); err != nil {
		return err
	}
	// The index must exist before the collection is loaded.
	if err := svc.CreateIndex(ctx, vectorDataset, vector.DefaultIndexSpec); err != nil {
		return err
	}
	return svc.Load(ctx, vectorDataset)
}

func insertBatches(cmd *cobra.Command, svc *vector.Service, records []vector.Record) error {
	for start := 0; start < len(records); start += insertBatchSize {
		end := min(start+insertBatchSize, len(records))
		if err := svc.Insert(cmd.Context(), vectorDataset, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// demoRecords returns n standard normal vectors of dim named demo_<i>.
func demoRecords(n, dim int, seed uint64) []vector.Record {
	r := rand.New(rand.NewPCG(seed, seed>>1))
	records := make([]vector.Record, n)
	for i := range records {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = float32(r.NormFloat64())
		}
		records[i] = vector.Record{ID: fmt.Sprintf("demo_%d", i), Vector: vec}
	}
	return records
}

func init() {
	seedVectorsCmd.Flags().StringVar(&vectorDataset, "dataset", "orf", "dataset key: orf, crispr or compound")
	seedVectorsCmd.Flags().IntVar(&vectorDim, "dim", 128, "vector dimension")
	seedVectorsCmd.Flags().IntVar(&vectorCount, "count", 50, "number of demo vectors")
	seedVectorsCmd.Flags().Uint64Var(&vectorSeed, "seed", 0, "random seed, 0 picks one from the clock")

	dropCollectionCmd.Flags().StringVar(&vectorDataset, "dataset", "orf", "dataset key: orf, crispr or compound")

	ingestVectorsCmd.Flags().StringVarP(&vectorFile, "file", "f", "", "input .parquet file with id and vector columns")
	ingestVectorsCmd.Flags().StringVar(&vectorDataset, "dataset", "orf", "dataset key: orf, crispr or compound")
	ingestVectorsCmd.Flags().BoolVar(&vectorDrop, "drop", false, "drop the collection before loading")
	_ = ingestVectorsCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(seedVectorsCmd, dropCollectionCmd, ingestVectorsCmd)
}
