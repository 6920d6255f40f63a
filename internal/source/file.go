package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"sql-gateway/internal/config"
)

// FileSource loads the registries from YAML files found by scanning an
// ordered list of directories with glob patterns. Within one load, later
// files override earlier ones on duplicate names (with a warning).
type FileSource struct {
	directories      []string
	databasePatterns []string
	queryPatterns    []string
	endpointPatterns []string
}

// NewFileSource creates a FileSource from the registry section of the
// process config.
func NewFileSource(cfg config.RegistryConfig) *FileSource {
	return &FileSource{
		directories:      cfg.Directories,
		databasePatterns: cfg.DatabasePatterns,
		queryPatterns:    cfg.QueryPatterns,
		endpointPatterns: cfg.EndpointPatterns,
	}
}

// Name identifies the source
func (f *FileSource) Name() string {
	return config.SourceYAML
}

// databaseFile mirrors the on-disk document shape {databases: {name: cfg}}
type databaseFile struct {
	Databases map[string]config.DatabaseConfig `yaml:"databases"`
}

type queryFile struct {
	Queries map[string]config.QueryConfig `yaml:"queries"`
}

type endpointFile struct {
	Endpoints map[string]config.EndpointConfig `yaml:"endpoints"`
}

// LoadDatabases scans the configured directories for database documents
func (f *FileSource) LoadDatabases(ctx context.Context) (map[string]config.DatabaseConfig, []string, error) {
	out := make(map[string]config.DatabaseConfig)
	var warnings []string

	err := f.scan(f.databasePatterns, func(path string, data []byte) error {
		var doc databaseFile
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for name, cfg := range doc.Databases {
			if _, dup := out[name]; dup {
				warnings = append(warnings, fmt.Sprintf("database %q redefined in %s, overriding earlier definition", name, path))
			}
			cfg.Name = name
			out[name] = cfg
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, warnings, nil
}

// LoadQueries scans the configured directories for query documents
func (f *FileSource) LoadQueries(ctx context.Context) (map[string]config.QueryConfig, []string, error) {
	out := make(map[string]config.QueryConfig)
	var warnings []string

	err := f.scan(f.queryPatterns, func(path string, data []byte) error {
		var doc queryFile
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for name, cfg := range doc.Queries {
			if _, dup := out[name]; dup {
				warnings = append(warnings, fmt.Sprintf("query %q redefined in %s, overriding earlier definition", name, path))
			}
			cfg.Name = name
			out[name] = cfg
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, warnings, nil
}

// LoadEndpoints scans the configured directories for endpoint documents
func (f *FileSource) LoadEndpoints(ctx context.Context) (map[string]config.EndpointConfig, []string, error) {
	out := make(map[string]config.EndpointConfig)
	var warnings []string

	err := f.scan(f.endpointPatterns, func(path string, data []byte) error {
		var doc endpointFile
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for name, cfg := range doc.Endpoints {
			if _, dup := out[name]; dup {
				warnings = append(warnings, fmt.Sprintf("endpoint %q redefined in %s, overriding earlier definition", name, path))
			}
			cfg.Name = name
			out[name] = cfg
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, warnings, nil
}

// scan enumerates matching files directory by directory in configured
// order, sorted within each directory for a stable override order.
// Missing directories are skipped; unreadable or malformed files abort.
func (f *FileSource) scan(patterns []string, visit func(path string, data []byte) error) error {
	for _, dir := range f.directories {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}

		var files []string
		for _, pattern := range patterns {
			matches, err := filepath.Glob(filepath.Join(dir, pattern))
			if err != nil {
				return fmt.Errorf("bad glob pattern %q: %w", pattern, err)
			}
			files = append(files, matches...)
		}
		sort.Strings(files)

		seen := make(map[string]bool)
		for _, path := range files {
			if seen[path] {
				continue // File matched more than one pattern
			}
			seen[path] = true

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read config file %s: %w", path, err)
			}
			// Expand environment variables, same as the process config
			expanded := os.ExpandEnv(string(data))
			if err := visit(path, []byte(expanded)); err != nil {
				return err
			}
		}
	}
	return nil
}
