// Package formmanager owns the loaded form schemas and the shared rules engine.
// Schemas are swapped atomically on update so in-flight evaluations keep the
// version they started with.
package formmanager

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liamcoop/formrules/internal/logger"
	"github.com/liamcoop/formrules/internal/metrics"
	"github.com/liamcoop/formrules/rules"
)

// Config controls how the manager treats schemas with authoring errors
type Config struct {
	// StrictValidation rejects invalid schemas on create and update.
	// Otherwise they are stored and every problem is logged.
	StrictValidation bool

	Cache rules.CacheConfig
}

// Manager manages the form schemas served by this process
type Manager struct {
	store   rules.SchemaStore
	cache   rules.SchemaCache
	engine  *rules.Engine
	metrics *metrics.Metrics
	config  Config

	forms map[string]*rules.Schema
	mu    sync.RWMutex
}

// NewManager creates a manager over store. m may be nil.
func NewManager(store rules.SchemaStore, engine *rules.Engine, m *metrics.Metrics, config Config) *Manager {
	return &Manager{
		store:   store,
		cache:   rules.NewInMemorySchemaCache(config.Cache),
		engine:  engine,
		metrics: m,
		config:  config,
		forms:   make(map[string]*rules.Schema),
	}
}

// Engine returns the engine shared by every form
func (m *Manager) Engine() *rules.Engine {
	return m.engine
}

// LoadAll loads every stored form and precompiles its expressions.
// Invalid forms are loaded anyway; the engine skips their broken rules.
func (m *Manager) LoadAll() error {
	list, err := m.store.List()
	if err != nil {
		return fmt.Errorf("failed to fetch forms: %w", err)
	}

	loaded := make(map[string]*rules.Schema, len(list))
	for _, schema := range list {
		m.report(schema, validate(schema, m.engine))
		loaded[schema.ID] = schema
	}

	m.mu.Lock()
	m.forms = loaded
	m.mu.Unlock()
	m.cache.Set(list)

	logger.Info("forms loaded", "count", len(loaded))
	return nil
}

// CreateForm assigns missing form and rule ids, validates, persists and loads the schema
func (m *Manager) CreateForm(schema *rules.Schema) (*rules.Schema, error) {
	if schema.ID == "" {
		schema.ID = uuid.New().String()
	}
	assignRuleIDs(schema)

	if err := m.check(schema); err != nil {
		return nil, err
	}

	if err := m.store.Add(schema); err != nil {
		return nil, fmt.Errorf("failed to store form: %w", err)
	}

	m.swap(schema)
	logger.Info("form created", "form_id", schema.ID, "fields", len(schema.Fields), "rules", len(schema.Rules))
	return schema, nil
}

// GetForm returns a loaded form, falling back to the store for forms created by
// another process
func (m *Manager) GetForm(formID string) (*rules.Schema, error) {
	m.mu.RLock()
	schema, exists := m.forms[formID]
	m.mu.RUnlock()
	if exists {
		return schema, nil
	}

	schema, err := m.store.Get(formID)
	if err != nil {
		return nil, err
	}
	m.swap(schema)
	return schema, nil
}

// UpdateFormSchema replaces a form's definition.
// This operation is zero-downtime: the new schema is persisted first and then swapped in.
func (m *Manager) UpdateFormSchema(schema *rules.Schema) error {
	assignRuleIDs(schema)

	if err := m.check(schema); err != nil {
		return err
	}

	if err := m.store.Update(schema); err != nil {
		return fmt.Errorf("failed to update form %s: %w", schema.ID, err)
	}

	m.swap(schema)
	logger.Info("form updated", "form_id", schema.ID, "version", schema.Version)
	return nil
}

// ListForms returns every stored form, served from the cache when it is fresh
func (m *Manager) ListForms() ([]*rules.Schema, error) {
	if cached := m.cache.Get(); cached != nil {
		return cached, nil
	}

	list, err := m.store.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list forms: %w", err)
	}
	m.cache.Set(list)
	return list, nil
}

// LoadedForms returns the ids of forms currently held in memory
func (m *Manager) LoadedForms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.forms))
	for id := range m.forms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DeleteForm removes a form from the store and from memory
func (m *Manager) DeleteForm(formID string) error {
	if err := m.store.Delete(formID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.forms, formID)
	m.mu.Unlock()
	m.cache.Invalidate()

	logger.Info("form deleted", "form_id", formID)
	return nil
}

// Validate checks a schema with the manager's engine so compiled expressions are cached
func (m *Manager) Validate(schema *rules.Schema) error {
	return validate(schema, m.engine)
}

// Evaluate computes field states for a loaded form. Engine warnings are logged and
// counted but never returned as errors.
func (m *Manager) Evaluate(formID string, answers rules.AnswerSet, mode rules.Mode) (rules.Result, error) {
	schema, err := m.GetForm(formID)
	if err != nil {
		return rules.Result{}, err
	}
	return m.EvaluateForm(schema, answers, mode), nil
}

// EvaluateForm evaluates a schema the caller already holds, so navigation and field
// states come from the same version of the form
func (m *Manager) EvaluateForm(schema *rules.Schema, answers rules.AnswerSet, mode rules.Mode) rules.Result {
	start := time.Now()
	res := m.engine.Evaluate(schema, answers, mode)
	m.metrics.RecordEvaluation(mode, time.Since(start), res.Warnings)

	for _, w := range res.Warnings {
		logger.WarnRule(schema.ID, string(w.Kind), w.RuleID, w.Detail)
	}
	return res
}

func (m *Manager) check(schema *rules.Schema) error {
	err := validate(schema, m.engine)
	if err != nil && m.config.StrictValidation {
		return err
	}
	m.report(schema, err)
	return nil
}

func (m *Manager) report(schema *rules.Schema, err error) {
	if err == nil {
		return
	}
	problems := Problems(err)
	if problems == nil {
		logger.Warn("form validation failed", "form_id", schema.ID, "error", err)
		return
	}
	for _, p := range problems {
		logger.Warn("form has authoring errors", "form_id", schema.ID, "problem", p.Error())
	}
}

// swap atomically replaces the in-memory schema and drops the list cache
func (m *Manager) swap(schema *rules.Schema) {
	m.mu.Lock()
	m.forms[schema.ID] = schema
	m.mu.Unlock()
	m.cache.Invalidate()
}

func assignRuleIDs(schema *rules.Schema) {
	for _, r := range schema.Rules {
		if r != nil && r.ID == "" {
			r.ID = uuid.New().String()
		}
	}
}
