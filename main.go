package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sql-gateway/internal/config"
	"sql-gateway/internal/logging"
	"sql-gateway/internal/migrate"
	"sql-gateway/internal/pool"
	"sql-gateway/internal/registry"
	"sql-gateway/internal/server"
	"sql-gateway/internal/source"
)

var (
	configPath   = flag.String("config", "config.yaml", "Path to configuration file")
	validateOnly = flag.Bool("validate", false, "Validate configuration and exit")
	validateDB   = flag.Bool("validate-db", false, "Validate configuration including database connectivity")
	migrateTo    = flag.String("migrate-to", "", "Migrate configuration to 'database' or 'yaml' and exit")
	exportDir    = flag.String("export-dir", "", "Target directory for -migrate-to yaml (default: first configured directory)")
)

func main() {
	flag.Parse()

	// Optional .env for credentials referenced via ${VAR} in the config
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(cfg.Logging.Level, cfg.Logging.FilePath,
		cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.MaxAgeDays); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Close()

	src, cleanup, err := buildSource(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration source error: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx := context.Background()

	if *migrateTo != "" {
		os.Exit(runMigration(ctx, cfg, src, *migrateTo))
	}

	reg, report, err := registry.Build(ctx, src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		if report != nil {
			for _, e := range report.Errors {
				fmt.Fprintf(os.Stderr, "  ✗ %s\n", e)
			}
		}
		os.Exit(1)
	}
	for _, w := range report.Warnings {
		logging.Warn("config_warning", map[string]any{"warning": w})
	}

	if *validateOnly || *validateDB {
		os.Exit(runValidation(ctx, cfg, reg, report, *validateDB))
	}

	srv, err := server.New(cfg, reg, src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup error: %v\n", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	case sig := <-sigCh:
		logging.Info("shutdown_signal", map[string]any{"signal": sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
		os.Exit(1)
	}
}

// buildSource creates the configuration source the config selects.
// The returned cleanup releases any underlying connection.
func buildSource(cfg *config.Config) (source.Source, func(), error) {
	switch cfg.Registry.Source {
	case config.SourceDatabase:
		dbSrc, err := source.NewDBSource(*cfg.Registry.Metadata)
		if err != nil {
			return nil, nil, err
		}
		return dbSrc, func() { dbSrc.Close() }, nil
	default:
		return source.NewFileSource(cfg.Registry), func() {}, nil
	}
}

// runMigration moves configuration between the active source and the
// named destination.
func runMigration(ctx context.Context, cfg *config.Config, src source.Source, target string) int {
	switch target {
	case "database":
		if cfg.Registry.Metadata == nil {
			fmt.Fprintln(os.Stderr, "config.metadata is required for -migrate-to database")
			return 1
		}
		dst, err := source.NewDBSource(*cfg.Registry.Metadata)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open metadata database: %v\n", err)
			return 1
		}
		defer dst.Close()

		result, err := migrate.Migrate(ctx, src, dst)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
			return 1
		}
		printMigration(result)
		if result.Failures() > 0 {
			return 1
		}
		return 0

	case "yaml":
		dir := *exportDir
		if dir == "" && len(cfg.Registry.Directories) > 0 {
			dir = cfg.Registry.Directories[0]
		}
		if dir == "" {
			fmt.Fprintln(os.Stderr, "-export-dir is required for -migrate-to yaml")
			return 1
		}

		export, err := migrate.ExportYAML(ctx, src)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
			return 1
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
			return 1
		}

		files := map[string][]byte{
			"databases.yaml": export.Databases,
			"queries.yaml":   export.Queries,
			"endpoints.yaml": export.Endpoints,
		}
		for name, data := range files {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, data, 0644); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", path, err)
				return 1
			}
			fmt.Printf("Wrote %s\n", path)
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "-migrate-to must be 'database' or 'yaml', got %q\n", target)
		return 1
	}
}

func printMigration(r *migrate.Result) {
	fmt.Printf("Migration completed in %s\n", r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
	kinds := []struct {
		name string
		kr   migrate.KindResult
	}{
		{"databases", r.Databases},
		{"queries", r.Queries},
		{"endpoints", r.Endpoints},
	}
	for _, k := range kinds {
		fmt.Printf("  %-10s created=%d updated=%d failed=%d\n", k.name, k.kr.Created, k.kr.Updated, k.kr.Failed)
		for _, e := range k.kr.Errors {
			fmt.Printf("    ✗ %s\n", e)
		}
	}
}

// runValidation prints a human-readable summary of the loaded registry.
func runValidation(ctx context.Context, cfg *config.Config, reg *registry.Registry, report *registry.Report, testDB bool) int {
	fmt.Println("SQL Gateway Configuration Validator")
	fmt.Println("===================================")
	fmt.Printf("Config file: %s\n", *configPath)
	fmt.Printf("Source: %s\n\n", reg.SourceName())

	databases, queries, endpoints := reg.Counts()
	fmt.Printf("Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("Databases: %d, Queries: %d, Endpoints: %d\n", databases, queries, endpoints)

	if endpoints > 0 {
		fmt.Println("\nConfigured endpoints:")
		for name, ep := range reg.Endpoints() {
			fmt.Printf("  %s %s - %s (query: %s)\n", ep.Method, ep.Path, name, ep.Query)
		}
	}

	if len(report.Warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range report.Warnings {
			fmt.Printf("  ⚠ %s\n", w)
		}
	}

	exit := 0
	if testDB {
		fmt.Println("\nTesting database connectivity:")
		pools := pool.NewManager(reg.Database)
		defer pools.Close()

		for name := range reg.Databases() {
			probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := pools.Validate(probeCtx, name)
			cancel()
			if err != nil {
				fmt.Printf("  ✗ %s: %v\n", name, err)
				exit = 1
			} else {
				fmt.Printf("  ✓ %s\n", name)
			}
		}
	}

	fmt.Println()
	if exit == 0 {
		fmt.Println("✓ Configuration is valid")
	} else {
		fmt.Println("✗ Configuration has errors")
	}
	return exit
}
