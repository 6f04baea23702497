package infrastructure

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/alex-galey/mission-mcp/internal/server-plugins/chain/domain"
	"gopkg.in/yaml.v3"
)

// YAMLDefinitionProvider reads chain and sub-workflow definitions from YAML files. Chains
// registered at runtime are kept in memory next to the files.
type YAMLDefinitionProvider struct {
	chainsDir    string
	workflowsDir string
	logger       *slog.Logger

	mu         sync.RWMutex
	registered map[string]domain.AgentWorkflowChain
}

// NewYAMLDefinitionProvider creates a provider over the given directories. Missing
// directories are treated as empty.
func NewYAMLDefinitionProvider(chainsDir, workflowsDir string, logger *slog.Logger) *YAMLDefinitionProvider {
	return &YAMLDefinitionProvider{
		chainsDir:    chainsDir,
		workflowsDir: workflowsDir,
		logger:       logger,
		registered:   make(map[string]domain.AgentWorkflowChain),
	}
}

// Register keeps a chain definition in memory so later runs can refer to it by id.
func (p *YAMLDefinitionProvider) Register(chain domain.AgentWorkflowChain) error {
	if err := chain.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered[chain.ID] = chain.Clone()
	return nil
}

// ListChains returns the registered chains followed by the file definitions, sorted by id.
// A registered chain shadows a file with the same id.
func (p *YAMLDefinitionProvider) ListChains(ctx context.Context) ([]domain.AgentWorkflowChain, error) {
	byID := make(map[string]domain.AgentWorkflowChain)

	err := walkYAML(p.chainsDir, func(path string) error {
		var chain domain.AgentWorkflowChain
		if err := decodeFile(path, &chain); err != nil {
			return err
		}
		if err := chain.Validate(); err != nil {
			return fmt.Errorf("invalid chain file %s: %w", path, err)
		}
		if _, dup := byID[chain.ID]; dup {
			return fmt.Errorf("duplicate chain id %q in %s", chain.ID, path)
		}
		byID[chain.ID] = chain
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	for id, chain := range p.registered {
		byID[id] = chain.Clone()
	}
	p.mu.RUnlock()

	chains := make([]domain.AgentWorkflowChain, 0, len(byID))
	for _, chain := range byID {
		chains = append(chains, chain)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].ID < chains[j].ID })
	return chains, nil
}

// GetChain returns one chain by id.
func (p *YAMLDefinitionProvider) GetChain(ctx context.Context, id string) (*domain.AgentWorkflowChain, error) {
	chains, err := p.ListChains(ctx)
	if err != nil {
		return nil, err
	}
	for _, chain := range chains {
		if chain.ID == id {
			found := chain
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrChainNotFound, id)
}

// ResolveWorkflow loads the sub-workflow whose id matches ref.
func (p *YAMLDefinitionProvider) ResolveWorkflow(ctx context.Context, ref string) (*domain.SubWorkflow, error) {
	var found *domain.SubWorkflow

	err := walkYAML(p.workflowsDir, func(path string) error {
		if found != nil {
			return nil
		}
		var wf domain.SubWorkflow
		if err := decodeFile(path, &wf); err != nil {
			return err
		}
		if wf.ID == ref {
			found = &wf
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, ref)
	}

	p.logger.Debug("Resolved sub-workflow", "workflow_id", ref, "steps", len(found.Steps))
	return found, nil
}

// walkYAML calls fn for every YAML file below dir. A missing dir is not an error.
func walkYAML(dir string, fn func(path string) error) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAMLFile(path) {
			return nil
		}
		return fn(path)
	})
	if err != nil {
		return fmt.Errorf("failed to read definitions directory %s: %w", dir, err)
	}
	return nil
}

func decodeFile(path string, into any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return nil
}

// isYAMLFile checks if a file has a YAML extension.
func isYAMLFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}
