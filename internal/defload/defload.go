// Package defload seeds the store with flow and orchestration definitions
// from a directory of YAML files at startup
package defload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/api"
	"github.com/loomworks/loom/pkg/log"
)

var (
	ErrUnknownDefinition = errors.New(
		"definition is neither a flow nor an orchestration",
	)
	ErrLoadDefinition = errors.New("failed to load definition")
)

// Load reads every .yaml and .yml file under dir and registers the
// definitions it finds. Returns the number of definitions registered
func Load(ctx context.Context, st store.Store, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrLoadDefinition, err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := loadFile(ctx, st, path); err != nil {
			return count, fmt.Errorf("%w: %s: %w",
				ErrLoadDefinition, entry.Name(), err)
		}
		count++
	}
	return count, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func loadFile(ctx context.Context, st store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}

	// Definition types carry JSON tags; round-trip through JSON so a
	// single set of field names serves both the API and the loader
	jsonDoc, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	switch {
	case doc["nodes"] != nil:
		return loadFlow(ctx, st, jsonDoc, path)
	case doc["agents"] != nil:
		return loadOrchestration(ctx, st, jsonDoc, path)
	default:
		return ErrUnknownDefinition
	}
}

func loadFlow(
	ctx context.Context, st store.Store, doc []byte, path string,
) error {
	var def api.FlowDefinition
	if err := json.Unmarshal(doc, &def); err != nil {
		return err
	}
	if err := def.Validate(); err != nil {
		return err
	}
	if err := st.PutFlow(ctx, &def); err != nil {
		return err
	}

	slog.Info("Flow definition loaded",
		log.DefinitionID(def.ID),
		slog.String("file", filepath.Base(path)))
	return nil
}

func loadOrchestration(
	ctx context.Context, st store.Store, doc []byte, path string,
) error {
	var def api.OrchestrationDefinition
	if err := json.Unmarshal(doc, &def); err != nil {
		return err
	}
	if def.Status == "" {
		def.Status = api.DefinitionActive
	}
	if err := def.Validate(); err != nil {
		return err
	}
	if err := st.PutOrchestration(ctx, &def); err != nil {
		return err
	}

	slog.Info("Orchestration definition loaded",
		log.DefinitionID(def.ID),
		slog.String("file", filepath.Base(path)))
	return nil
}
