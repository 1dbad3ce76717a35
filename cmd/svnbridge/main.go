package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"

	svnbridge "github.com/HYDPublic/SvnBridge"
	"github.com/HYDPublic/SvnBridge/cache"
	"github.com/HYDPublic/SvnBridge/davserver"
	"github.com/HYDPublic/SvnBridge/loader"
	"github.com/HYDPublic/SvnBridge/tfs"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	configPath string
	listenAddr string
	memoryRepo bool
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "svnbridge",
	Short: "Serve a changeset-based source control server over the Subversion WebDAV dialect",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}
		if debug {
			cfg.DebugLog = log.New(os.Stderr, "svnbridge debug: ", log.LstdFlags)
		}

		source, err := buildSource(cfg)
		if err != nil {
			return err
		}

		policy := cfg.CasePolicy()
		registry := metrics.NewRegistry()
		meta := cache.New(source, policy, cfg.DebugLog, registry)

		handler := davserver.NewHandler(davserver.Config{
			Source: source,
			Meta:   meta,
			Policy: policy,
			Loader: loader.Config{
				MaxInFlight:        cfg.MaxInFlightRequests,
				MaxBufferedBytes:   cfg.MaxBufferedBytes,
				ProductionTimeout:  cfg.ProductionTimeout,
				ConsumptionTimeout: cfg.ConsumptionTimeout,
			},
			Log:      cfg.Log,
			DebugLog: cfg.DebugLog,
			Registry: registry,
		})

		cfg.Log.Printf("listening on %s", cfg.ListenAddr)
		return http.ListenAndServe(cfg.ListenAddr, handler)
	},
}

func loadConfig() (*svnbridge.Config, error) {
	if configPath != "" {
		return svnbridge.ReadConfig(configPath)
	}
	cfg := &svnbridge.Config{}
	cfg.SetDefaults()
	return cfg, nil
}

// buildSource picks the upstream implementation. The production RPC client
// is an embedding concern: deployments construct their own tfs.SourceControl
// and mount davserver directly. The built-in in-memory repository serves
// development and protocol testing.
func buildSource(cfg *svnbridge.Config) (tfs.SourceControl, error) {
	if memoryRepo {
		cfg.Log.Printf("serving the in-memory repository")
		return tfs.NewFake(), nil
	}
	if len(cfg.UpstreamServers) == 0 {
		return nil, fmt.Errorf("no upstream_servers configured; use --memory for the in-memory repository")
	}
	return nil, fmt.Errorf("no client built in for %s; embed davserver with your tfs.SourceControl implementation", cfg.UpstreamServers[0])
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config")
	serveCmd.Flags().StringVar(&listenAddr, "http", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().BoolVar(&memoryRepo, "memory", false, "serve an in-memory repository")
	serveCmd.Flags().BoolVarP(&debug, "debug", "d", false, "verbose debug logging")
	rootCmd.AddCommand(serveCmd)
}
