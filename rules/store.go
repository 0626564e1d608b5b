package rules

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// SchemaStore persists form schemas. The engine itself never touches a store; the
// form manager loads a schema once and hands it to the engine as a plain value.
type SchemaStore interface {
	// Add a new form schema
	Add(schema *Schema) error

	// Get a form schema by ID
	Get(id string) (*Schema, error)

	// List all form schemas
	List() ([]*Schema, error)

	// Update an existing form schema, bumping its version
	Update(schema *Schema) error

	// Delete a form schema
	Delete(id string) error
}

// InMemorySchemaStore implements SchemaStore using an in-memory map
type InMemorySchemaStore struct {
	schemas map[string]*Schema
	mu      sync.RWMutex
}

// NewInMemorySchemaStore creates a new in-memory schema store
func NewInMemorySchemaStore() *InMemorySchemaStore {
	return &InMemorySchemaStore{
		schemas: make(map[string]*Schema),
	}
}

// Add stores a copy of the schema, stamping version and timestamps
func (s *InMemorySchemaStore) Add(schema *Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schemas[schema.ID]; exists {
		return fmt.Errorf("form %s: %w", schema.ID, ErrSchemaExists)
	}

	now := time.Now()
	schema.CreatedAt = now
	schema.UpdatedAt = now
	if schema.Version == 0 {
		schema.Version = 1
	}

	stored, err := cloneSchema(schema)
	if err != nil {
		return err
	}
	s.schemas[schema.ID] = stored
	return nil
}

// Get returns a copy so callers cannot mutate the stored schema
func (s *InMemorySchemaStore) Get(id string) (*Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schema, exists := s.schemas[id]
	if !exists {
		return nil, fmt.Errorf("form %s: %w", id, ErrSchemaNotFound)
	}
	return cloneSchema(schema)
}

// List returns all schemas ordered by creation time
func (s *InMemorySchemaStore) List() ([]*Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Schema, 0, len(s.schemas))
	for _, schema := range s.schemas {
		c, err := cloneSchema(schema)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// Update replaces an existing schema, preserving CreatedAt and incrementing Version
func (s *InMemorySchemaStore) Update(schema *Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.schemas[schema.ID]
	if !exists {
		return fmt.Errorf("form %s: %w", schema.ID, ErrSchemaNotFound)
	}

	schema.CreatedAt = existing.CreatedAt
	schema.UpdatedAt = time.Now()
	schema.Version = existing.Version + 1

	stored, err := cloneSchema(schema)
	if err != nil {
		return err
	}
	s.schemas[schema.ID] = stored
	return nil
}

// Delete removes a schema from the store
func (s *InMemorySchemaStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schemas[id]; !exists {
		return fmt.Errorf("form %s: %w", id, ErrSchemaNotFound)
	}

	delete(s.schemas, id)
	return nil
}

// cloneSchema deep-copies through the JSON form, the same representation the
// PostgreSQL store persists
func cloneSchema(schema *Schema) (*Schema, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to encode form %s: %w", schema.ID, err)
	}
	var out Schema
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode form %s: %w", schema.ID, err)
	}
	return &out, nil
}
