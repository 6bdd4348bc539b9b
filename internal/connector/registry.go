package connector

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Star-Solution-FZCO/workbench-sub000/internal/domain"
)

// Builder constructs a connector from its decoded configuration.
type Builder[C any] func(cfg C, source domain.Source, deps Deps) (Connector, error)

type definition struct {
	validate func(raw json.RawMessage) error
	build    func(source domain.Source, deps Deps) (Connector, error)
}

// Registry maps source type tags to connector constructors.
type Registry struct {
	mu   sync.RWMutex
	defs map[domain.SourceType]definition
	deps Deps
}

// NewRegistry constructs an empty Registry; deps are handed to every connector it builds.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		defs: make(map[domain.SourceType]definition),
		deps: deps.withDefaults(),
	}
}

// Register adds a connector variant whose configuration decodes into C.
func Register[C any](r *Registry, sourceType domain.SourceType, build Builder[C]) {
	sourceType = normalizeType(sourceType)
	if sourceType == "" || build == nil {
		return
	}
	def := definition{
		validate: func(raw json.RawMessage) error {
			var cfg C
			return DecodeConfig(string(sourceType), raw, &cfg)
		},
		build: func(source domain.Source, deps Deps) (Connector, error) {
			var cfg C
			if err := DecodeConfig(string(sourceType), source.Config, &cfg); err != nil {
				return nil, err
			}
			return build(cfg, source, deps)
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[sourceType] = def
}

// Types lists the registered source types in lexical order.
func (r *Registry) Types() []domain.SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SourceType, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks raw against the configuration schema of sourceType.
func (r *Registry) Validate(sourceType domain.SourceType, raw json.RawMessage) error {
	def, err := r.lookup(sourceType)
	if err != nil {
		return err
	}
	return def.validate(raw)
}

// New builds the connector for source, validating its configuration first.
func (r *Registry) New(source domain.Source) (Connector, error) {
	def, err := r.lookup(source.Type)
	if err != nil {
		return nil, err
	}
	deps := r.deps
	deps.Logger = deps.Logger.Named(string(normalizeType(source.Type))).With(SourceFields(source)...)
	conn, err := def.build(source, deps)
	if err != nil {
		if IsConfigError(err) {
			return nil, err
		}
		return nil, &ConfigError{Type: string(source.Type), Err: err}
	}
	return conn, nil
}

func (r *Registry) lookup(sourceType domain.SourceType) (definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[normalizeType(sourceType)]
	if !ok {
		return definition{}, &ConfigError{
			Type:   string(sourceType),
			Reason: fmt.Sprintf("no connector registered for %q", sourceType),
			Err:    ErrUnknownSourceType,
		}
	}
	return def, nil
}

func normalizeType(t domain.SourceType) domain.SourceType {
	return domain.SourceType(strings.ToLower(strings.TrimSpace(string(t))))
}
