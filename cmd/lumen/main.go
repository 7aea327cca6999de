package main

import (
	"fmt"
	"os"

	"github.com/lumenhq/lumen-go/internal/auth"
	"github.com/lumenhq/lumen-go/internal/client"
	"github.com/lumenhq/lumen-go/internal/config"
	"github.com/lumenhq/lumen-go/internal/logging"
	"github.com/lumenhq/lumen-go/internal/plan"
	"github.com/lumenhq/lumen-go/internal/profile"
	"github.com/lumenhq/lumen-go/internal/session"
	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "lumen",
	Short:         "Lumen Studio API client",
	Long:          `Command-line client for the Lumen photography-studio platform: sessions, profile, usage statistics and plan-limit checks.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lumen %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(checkCmd)
}

// app bundles the wired service graph a command runs against.
type app struct {
	cfg     *config.Config
	store   *session.Store
	auth    *auth.Service
	api     *client.Client
	sync    *profile.Synchronizer
	emitter *plan.Emitter
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "lumen",
	})

	store, err := session.NewStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	authSvc := auth.NewService(store, cfg.APIURL, nil)
	emitter := plan.NewEmitter()

	api, err := client.New(client.Config{
		BaseURL: cfg.APIURL,
		Timeout: cfg.HTTPTimeout,
	}, store, authSvc, emitter)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		store:   store,
		auth:    authSvc,
		api:     api,
		sync:    profile.NewSynchronizer(api, store),
		emitter: emitter,
	}, nil
}

func (a *app) Close() {
	a.store.Close()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
