package factory

import (
	"Go2NetNodes/internal/config"
	"Go2NetNodes/internal/model"
	"fmt"
	"log/slog"
	"sort"
)

// WriterFactory creates a writer from its definition.
type WriterFactory func(def config.WriterDef) (model.Writer, error)

// registry holds the mapping of writer types to their factory functions.
var registry = make(map[string]WriterFactory)

// RegisterWriter registers a new writer type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	registry[name] = factory
}

// Registered returns the registered writer types in sorted order.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create creates the enabled writers of the provided config. If one of them
// fails, the writers created so far are closed.
func Create(cfg *config.Config) ([]model.Writer, error) {
	var writers []model.Writer
	for _, def := range cfg.Writers {
		if !def.Enabled {
			continue
		}
		slog.Info("creating writer", "type", def.Type)

		factory, ok := registry[def.Type]
		if !ok {
			closeAll(writers)
			return nil, fmt.Errorf("unknown writer type: '%s'", def.Type)
		}
		w, err := factory(def)
		if err != nil {
			closeAll(writers)
			return nil, fmt.Errorf("error creating writer type '%s': %w", def.Type, err)
		}
		writers = append(writers, w)
	}
	return writers, nil
}

func closeAll(writers []model.Writer) {
	for _, w := range writers {
		if err := w.Close(); err != nil {
			slog.Warn("failed to close writer", "writer", w.Name(), "error", err)
		}
	}
}
