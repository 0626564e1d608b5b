package rules

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresSchemaStore implements SchemaStore backed by PostgreSQL.
// Blocks, fields and rules are stored together as a JSONB definition.
type PostgresSchemaStore struct {
	db *sql.DB
}

// NewPostgresSchemaStore creates a new PostgreSQL-backed SchemaStore
func NewPostgresSchemaStore(db *sql.DB) *PostgresSchemaStore {
	return &PostgresSchemaStore{db: db}
}

// definition is the JSONB payload of a forms row
type definition struct {
	Blocks []Block     `json:"blocks,omitempty"`
	Fields []FormField `json:"fields"`
	Rules  RuleSet     `json:"rules,omitempty"`
}

func encodeDefinition(schema *Schema) ([]byte, error) {
	data, err := json.Marshal(definition{Blocks: schema.Blocks, Fields: schema.Fields, Rules: schema.Rules})
	if err != nil {
		return nil, fmt.Errorf("failed to encode form %s: %w", schema.ID, err)
	}
	return data, nil
}

// Add inserts a new form into the database
func (s *PostgresSchemaStore) Add(schema *Schema) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM forms WHERE id = $1)
	`, schema.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check form existence: %w", err)
	}
	if exists {
		return fmt.Errorf("form %s: %w", schema.ID, ErrSchemaExists)
	}

	def, err := encodeDefinition(schema)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	schema.CreatedAt = now
	schema.UpdatedAt = now
	if schema.Version == 0 {
		schema.Version = 1
	}

	_, err = s.db.Exec(`
		INSERT INTO forms (id, title, version, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, schema.ID, schema.Title, schema.Version, def, schema.CreatedAt, schema.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert form: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchema(row rowScanner) (*Schema, error) {
	var (
		schema Schema
		def    []byte
	)
	if err := row.Scan(&schema.ID, &schema.Title, &schema.Version, &def, &schema.CreatedAt, &schema.UpdatedAt); err != nil {
		return nil, err
	}

	var d definition
	if err := json.Unmarshal(def, &d); err != nil {
		return nil, fmt.Errorf("invalid definition for form %s: %w", schema.ID, err)
	}
	schema.Blocks = d.Blocks
	schema.Fields = d.Fields
	schema.Rules = d.Rules
	return &schema, nil
}

// Get retrieves a form by ID
func (s *PostgresSchemaStore) Get(id string) (*Schema, error) {
	row := s.db.QueryRow(`
		SELECT id, title, version, definition, created_at, updated_at
		FROM forms
		WHERE id = $1
	`, id)

	schema, err := scanSchema(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("form %s: %w", id, ErrSchemaNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get form: %w", err)
	}

	return schema, nil
}

// List returns all forms, oldest first
func (s *PostgresSchemaStore) List() ([]*Schema, error) {
	rows, err := s.db.Query(`
		SELECT id, title, version, definition, created_at, updated_at
		FROM forms
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list forms: %w", err)
	}
	defer rows.Close()

	var list []*Schema
	for rows.Next() {
		schema, err := scanSchema(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan form: %w", err)
		}
		list = append(list, schema)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating forms: %w", err)
	}

	return list, nil
}

// Update replaces the definition of an existing form and increments its version
func (s *PostgresSchemaStore) Update(schema *Schema) error {
	def, err := encodeDefinition(schema)
	if err != nil {
		return err
	}

	schema.UpdatedAt = time.Now().UTC()

	err = s.db.QueryRow(`
		UPDATE forms
		SET title = $1, definition = $2, version = version + 1, updated_at = $3
		WHERE id = $4
		RETURNING version, created_at
	`, schema.Title, def, schema.UpdatedAt, schema.ID).Scan(&schema.Version, &schema.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("form %s: %w", schema.ID, ErrSchemaNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update form: %w", err)
	}

	return nil
}

// Delete removes a form from the database
func (s *PostgresSchemaStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM forms
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete form: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("form %s: %w", id, ErrSchemaNotFound)
	}

	return nil
}
