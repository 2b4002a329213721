package eval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apple/pkl-go/pkl"
	"gopkg.in/yaml.v3"

	"github.com/kubeforge-io/kubeforge/internal/ir"
)

// Load reads a stack configuration. PKL files go through the PKL
// evaluator; YAML files are decoded strictly so typos in field names fail
// loudly instead of silently dropping a resource.
func Load(ctx context.Context, path string) (*ir.Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pkl":
		return loadPkl(ctx, path)
	case ".yaml", ".yml":
		return loadYAML(path)
	}
	return nil, fmt.Errorf("unsupported config format %q (want .pkl, .yaml, or .yml)", filepath.Ext(path))
}

func loadPkl(ctx context.Context, path string) (*ir.Config, error) {
	evaluator, err := pkl.NewEvaluator(ctx, pkl.PreconfiguredOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	var cfg ir.Config
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(path), &cfg); err != nil {
		return nil, fmt.Errorf("failed to evaluate config: %w", err)
	}
	return &cfg, nil
}

func loadYAML(path string) (*ir.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)

	var cfg ir.Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}
