// Package main is the entry point for the jcp CLI.
//
// Usage:
//
//	jcp [flags] <command> [args]
//
// Commands:
//
//	serve            - Run the search UI
//	init-schema      - Create the metadata schema
//	seed-metadata    - Insert demo metadata rows
//	seed-vectors     - Recreate a demo collection with random vectors
//	drop-collection  - Drop a dataset collection
//	smoke            - Run one end-to-end search
//	ingest-metadata  - Load metadata from parquet or csv
//	ingest-vectors   - Load vectors from parquet
//	get-profile      - Print one metadata row
//	version          - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/hrygo/jcp/cmd/jcp/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
