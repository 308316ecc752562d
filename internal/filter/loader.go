package filter

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Loader reads filter policies and their data from a filesystem.
type Loader struct {
	fs        afero.Fs
	policyDir string
	dataFile  string
}

// NewLoader creates a new policy loader. dataFile may be empty.
func NewLoader(fs afero.Fs, policyDir, dataFile string) *Loader {
	return &Loader{
		fs:        fs,
		policyDir: policyDir,
		dataFile:  dataFile,
	}
}

// LoadModules loads all .rego files from the policy directory, skipping
// _test.rego files.
func (l *Loader) LoadModules() (map[string]string, error) {
	modules := make(map[string]string)

	files, err := afero.Glob(l.fs, filepath.Join(l.policyDir, "*.rego"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}

	for _, file := range files {
		if strings.HasSuffix(file, "_test.rego") {
			continue
		}

		content, err := afero.ReadFile(l.fs, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}

		name := filepath.Base(file)
		modules[name] = string(content)

		log.Debug().Str("file", name).Int("bytes", len(content)).Msg("Loaded filter module")
	}

	if len(modules) == 0 {
		return nil, fmt.Errorf("no .rego files found in %s", l.policyDir)
	}

	log.Info().Int("count", len(modules)).Str("dir", l.policyDir).Msg("Loaded filter modules")
	return modules, nil
}

// LoadData loads the policy data JSON file.
func (l *Loader) LoadData() (map[string]interface{}, error) {
	content, err := afero.ReadFile(l.fs, l.dataFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read filter data: %w", err)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("failed to parse filter data: %w", err)
	}

	log.Info().Str("file", l.dataFile).Int("keys", len(data)).Msg("Loaded filter data")
	return data, nil
}

// LoadAndInitialize loads data and modules, then compiles them into engine.
func (l *Loader) LoadAndInitialize(ctx context.Context, engine *Engine) error {
	modules, err := l.LoadModules()
	if err != nil {
		return fmt.Errorf("failed to load filter modules: %w", err)
	}

	if l.dataFile != "" {
		data, err := l.LoadData()
		if err != nil {
			return err
		}
		// Set data first so it is available during compilation
		if err := engine.SetData(data); err != nil {
			return fmt.Errorf("failed to set filter data: %w", err)
		}
	}

	if err := engine.LoadModules(ctx, modules); err != nil {
		return fmt.Errorf("failed to compile filter modules: %w", err)
	}

	return nil
}
