package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inkwell-md/inkwell/internal/config"
	"github.com/inkwell-md/inkwell/internal/server"
)

const shutdownTimeout = 5 * time.Second

var viewCmd = &cobra.Command{
	Use:   "view <note-file>",
	Short: "Serve a note as a live HTML preview",
	Long: `Render the note to HTML and serve it on a local port. The page
reloads automatically whenever the file changes on disk. Local files
the note links to are served too, but only once a served page has
actually linked them; everything else inside the sandbox stays
invisible.

Examples:
  inkwell view note.md                  # Pick a free port
  inkwell view --port 8042 note.md      # Fixed port
  inkwell view --root ~/notes note.md   # Wider link sandbox`,
	Args: cobra.ExactArgs(1),
	RunE: runView,
}

func init() {
	rootCmd.AddCommand(viewCmd)

	viewCmd.Flags().IntP("port", "p", 0, "Port to serve on (0 picks a free one)")
	viewCmd.Flags().String("host", "127.0.0.1", "Host to bind to")
	viewCmd.Flags().String("root", "", "Sandbox root for local links (default: the note's directory)")
	viewCmd.Flags().Bool("keep-running", false, "Keep serving even when no viewer is connected")

	viper.BindPFlag("server.port", viewCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", viewCmd.Flags().Lookup("host"))
	viper.BindPFlag("viewer.root", viewCmd.Flags().Lookup("root"))
}

func runView(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if keep, _ := cmd.Flags().GetBool("keep-running"); keep {
		cfg.Watcher.TerminateOnIdle = false
	}

	log := newLogger(cfg)

	docPath := args[0]
	if _, err := os.Stat(docPath); err != nil {
		return fmt.Errorf("cannot open %s: %w", docPath, err)
	}

	srv, err := server.New(cfg, docPath, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("Serving %s on http://%s/\n", docPath, srv.Addr().String())

	select {
	case <-ctx.Done():
	case <-srv.Done():
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
