package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sinapsi/sinapsi-core/internal/engine"
)

// Logger defines the logging interface used by the catalog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MacroSink receives the built macros. *engine.MacroEngine implements it.
type MacroSink interface {
	ReloadMacros(ms []*engine.Macro) error
	AddMacro(m *engine.Macro) error
	RemoveMacro(id int) bool
	SetMacroEnabled(id int, enabled bool) error
}

// Catalog keeps the persisted macro definitions, the macros built from
// them, and the engine's macro set in step.
//
// Definitions that reference unknown or invalid components are loaded with
// the skip-and-log policy: a bad action is dropped from its macro; a bad
// trigger drops the macro.
//
// Thread Safety: all methods are safe for concurrent use. Mutations are
// serialised.
type Catalog struct {
	repo    Repository
	factory *engine.ComponentFactory
	sink    MacroSink
	logger  Logger

	mu     sync.RWMutex
	specs  map[int]engine.MacroSpec
	macros map[int]*engine.Macro
}

// New creates a catalog. sink may be nil when only persistence is needed.
func New(repo Repository, factory *engine.ComponentFactory, sink MacroSink, logger Logger) *Catalog {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Catalog{
		repo:    repo,
		factory: factory,
		sink:    sink,
		logger:  logger,
		specs:   make(map[int]engine.MacroSpec),
		macros:  make(map[int]*engine.Macro),
	}
}

// Sync reloads every definition from the repository, rebuilds the macros
// and replaces the engine's macro set.
func (c *Catalog) Sync(ctx context.Context) error {
	specs, err := c.repo.ListMacros(ctx)
	if err != nil {
		return fmt.Errorf("loading macros: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.specs = make(map[int]engine.MacroSpec, len(specs))
	c.macros = make(map[int]*engine.Macro, len(specs))
	built := make([]*engine.Macro, 0, len(specs))
	for _, spec := range specs {
		c.specs[spec.ID] = spec
		m, ok := c.build(spec)
		if !ok {
			continue
		}
		c.macros[m.ID] = m
		built = append(built, m)
	}

	if c.sink != nil {
		if err := c.sink.ReloadMacros(built); err != nil {
			c.logger.Warn("engine rejected macros", "error", err)
		}
	}
	c.logger.Info("macro catalog synced", "definitions", len(specs), "loaded", len(built))
	return nil
}

// build applies the skip-and-log policy.
func (c *Catalog) build(spec engine.MacroSpec) (*engine.Macro, bool) {
	m, skipped, err := c.factory.BuildMacro(spec)
	for _, s := range skipped {
		c.logger.Warn("skipping macro action", "macro_id", spec.ID, "error", s)
	}
	if err != nil {
		c.logger.Error("skipping macro", "macro_id", spec.ID, "macro", spec.Name, "error", err)
		return nil, false
	}
	return m, true
}

// GetAllMacros returns the macros built at the last sync or mutation,
// ordered by ID.
func (c *Catalog) GetAllMacros(_ context.Context) ([]*engine.Macro, error) {
	c.mu.RLock()
	out := make([]*engine.Macro, 0, len(c.macros))
	for _, m := range c.macros {
		out = append(out, m)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Specs returns the stored definitions ordered by ID, including those that
// failed to build.
func (c *Catalog) Specs() []engine.MacroSpec {
	c.mu.RLock()
	out := make([]engine.MacroSpec, 0, len(c.specs))
	for _, s := range c.specs {
		out = append(out, s)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Spec returns one stored definition.
func (c *Catalog) Spec(id int) (engine.MacroSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.specs[id]
	if !ok {
		return engine.MacroSpec{}, fmt.Errorf("%w: %d", ErrMacroNotFound, id)
	}
	return s, nil
}

// AddOrUpdateMacro validates, persists and loads one definition. Unlike
// Sync, a definition with a bad action is refused outright.
func (c *Catalog) AddOrUpdateMacro(ctx context.Context, spec engine.MacroSpec) error {
	m, skipped, err := c.factory.BuildMacro(spec)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMacro, err)
	}
	if len(skipped) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidMacro, errors.Join(skipped...))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.specs[spec.ID]
	if exists {
		err = c.repo.UpdateMacro(ctx, &spec)
	} else {
		err = c.repo.CreateMacro(ctx, &spec)
	}
	if err != nil {
		return err
	}

	c.specs[spec.ID] = spec
	c.macros[spec.ID] = m
	if c.sink != nil {
		if err := c.sink.AddMacro(m); err != nil {
			return fmt.Errorf("loading macro %d: %w", spec.ID, err)
		}
	}
	c.logger.Info("macro saved", "macro_id", spec.ID, "macro", spec.Name, "updated", exists)
	return nil
}

// RemoveMacro deletes a definition and unloads the macro.
func (c *Catalog) RemoveMacro(ctx context.Context, id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.repo.DeleteMacro(ctx, id); err != nil {
		return err
	}
	delete(c.specs, id)
	delete(c.macros, id)
	if c.sink != nil {
		c.sink.RemoveMacro(id)
	}
	c.logger.Info("macro removed", "macro_id", id)
	return nil
}

// SetEnabled persists the enabled flag and applies it to the engine.
func (c *Catalog) SetEnabled(ctx context.Context, id int, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.repo.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}
	if s, ok := c.specs[id]; ok {
		s.Enabled = enabled
		c.specs[id] = s
	}
	m, ok := c.macros[id]
	if !ok {
		return nil
	}
	cpy := *m
	cpy.Enabled = enabled
	c.macros[id] = &cpy
	if c.sink != nil {
		if err := c.sink.SetMacroEnabled(id, enabled); err != nil {
			return err
		}
	}
	return nil
}

// Seed stores the given definitions when the catalog is empty.
func (c *Catalog) Seed(ctx context.Context, specs []engine.MacroSpec) (int, error) {
	existing, err := c.repo.ListMacros(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading macros: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}
	for i := range specs {
		if err := c.repo.CreateMacro(ctx, &specs[i]); err != nil {
			return i, fmt.Errorf("seeding macro %d: %w", specs[i].ID, err)
		}
	}
	c.logger.Info("macro catalog seeded", "count", len(specs))
	return len(specs), nil
}
