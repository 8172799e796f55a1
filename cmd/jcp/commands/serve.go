package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hrygo/jcp/plugin/vector/backends"
	"github.com/hrygo/jcp/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the search UI and JSON API",
	Long: `Serve the search page on JCP_ADDR:JCP_PORT until SIGINT or SIGTERM.
The vector backend is connected on the first search.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, p, err := openStore()
		if err != nil {
			return err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			closeQuietly("metadata store", s)
			return err
		}
		vectors, err := backends.NewService(p)
		if err != nil {
			closeQuietly("metadata store", s)
			return err
		}

		srv, err := server.NewServer(p, s, vectors)
		if err != nil {
			closeQuietly("metadata store", s)
			return err
		}
		return srv.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
