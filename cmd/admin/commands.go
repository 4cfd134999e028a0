package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"leadflow-agent/internal/adminapi"
	"leadflow-agent/internal/leadstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the lead dashboard API",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := leadstore.New(leadsPath(cmd))
		if err != nil {
			return err
		}
		port, _ := cmd.Flags().GetInt("port")

		srv := &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", port),
			Handler:           adminapi.NewHandler(adminapi.Deps{Store: store}),
			ReadHeaderTimeout: 5 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			slog.Info("admin API listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the lead collection to stdout or a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := leadstore.New(leadsPath(cmd))
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		out, err := store.Export(format)
		if err != nil {
			return err
		}
		if output == "" {
			fmt.Fprintln(os.Stdout, out)
			return nil
		}
		if err := os.WriteFile(output, []byte(out), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}
		fmt.Fprintf(os.Stdout, "exported %d leads to %s\n", store.GetLeadsCount(), output)
		return nil
	},
}

func init() {
	serveCmd.Flags().Int("port", 8787, "port to listen on")
	serveCmd.Flags().String("leads", "", "path to the leads file (default $LEADS_FILE or leads.json)")

	exportCmd.Flags().String("format", leadstore.FormatCSV, "export format: csv or json")
	exportCmd.Flags().String("output", "", "write to file instead of stdout")
	exportCmd.Flags().String("leads", "", "path to the leads file (default $LEADS_FILE or leads.json)")
}
