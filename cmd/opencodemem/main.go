// opencodemem: a persistent, per-project memory service for AI coding
// assistants.
//
// Usage:
//
//	opencodemem serve    # Start the HTTP API and background workers
//	opencodemem migrate  # Apply pending schema migrations and exit
//	opencodemem replay   # Force an incremental sync/replicate pass
//	opencodemem purge    # Delete a project's (or every project's) memory
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opencodemem/opencodemem/internal/config"
	"github.com/opencodemem/opencodemem/internal/server"
	"github.com/opencodemem/opencodemem/internal/store"
)

var configPath string

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "opencodemem",
		Short:         "Persistent, per-project memory service for AI coding assistants",
		Long:          "opencodemem records observations from AI coding sessions, ranks and retrieves them for future context injection, and optionally replicates them to an external vector store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       server.Version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to the JSON config file")

	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newReplayCommand())
	root.AddCommand(newPurgeCommand())

	return root
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "opencodemem.json"
	}
	return home + "/.opencodemem/config.json"
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, background ingest processor, and replicator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	app, cleanup, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	watcher := config.NewWatcher(configPath)
	if err := watcher.Start(ctx); err == nil {
		go func() {
			for range watcher.Events() {
				fmt.Fprintf(os.Stderr, "opencodemem: config changed on disk; restart to apply\n")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.HTTP.ListenAndServe()
	}()

	fmt.Fprintf(os.Stderr, "opencodemem: listening on %s\n", app.HTTP.Addr)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Fprintf(os.Stderr, "opencodemem: schema up to date at %s\n", cfg.Store.DataDir)
			return nil
		},
	}
}

func newReplayCommand() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Force an incremental sync pass against the external vector collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Replicate.Enabled {
				return fmt.Errorf("replication is disabled in config")
			}
			if project == "" {
				return fmt.Errorf("--project is required")
			}
			app, cleanup, err := server.New(cfg)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			defer cleanup()
			run, err := app.Replay(context.Background(), project)
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}
			fmt.Fprintf(os.Stderr, "opencodemem: replayed %s — pushed=%d conflicts=%d failed=%d\n", project, run.Pushed, run.Conflicts, run.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project to replay")
	return cmd
}

func newPurgeCommand() *cobra.Command {
	var project string
	var confirm bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete a project's memory (or every project's, if --project is omitted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("refusing to purge without --confirm")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			var deleted int64
			if project == "" {
				deleted, err = st.PurgeAll()
			} else {
				deleted, err = st.PurgeProject(project)
			}
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}
			fmt.Fprintf(os.Stderr, "opencodemem: purged %d rows\n", deleted)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project to purge (all projects if omitted)")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "required to acknowledge the deletion is permanent")
	return cmd
}

func openStore(cfg *config.Config) (*store.Store, error) {
	return store.New(store.Config{
		DataDir:              cfg.Store.DataDir,
		MaxObservationLength: cfg.Store.MaxObservationLen,
		MaxContextResults:    cfg.Store.MaxContextResults,
		MaxSearchResults:     cfg.Store.MaxSearchResults,
		DedupeWindow:         cfg.Store.DedupeWindow,
		BusyRetries:          8,
	})
}
