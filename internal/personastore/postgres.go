package personastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the persona_definitions table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS persona_definitions (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    system_prompt TEXT NOT NULL DEFAULT '',
    greeting      TEXT NOT NULL DEFAULT '',
    voice         JSONB NOT NULL DEFAULT '{}',
    specialties   JSONB NOT NULL DEFAULT '[]',
    guard_rails   JSONB NOT NULL DEFAULT '[]',
    attributes    JSONB NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_persona_definitions_name ON persona_definitions(name);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
// It serialises structured sub-fields (voice, specialties, etc.) as JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// persona_definitions table and index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("personastore: migrate: %w", err)
	}
	return nil
}

// Create inserts a new persona definition. It validates the definition and
// returns an error if a persona with the same ID already exists.
func (s *PostgresStore) Create(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	voiceJSON, spJSON, grJSON, attrJSON, err := marshalFields(def)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO persona_definitions (
			id, name, system_prompt, greeting,
			voice, specialties, guard_rails, attributes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		def.ID, def.Name, def.SystemPrompt, def.Greeting,
		voiceJSON, spJSON, grJSON, attrJSON,
	).Scan(&def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("personastore: persona with id %q already exists", def.ID)
		}
		return fmt.Errorf("personastore: create: %w", err)
	}
	return nil
}

// Get retrieves a persona definition by ID. It returns (nil, nil) if no
// persona with the given ID exists.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Definition, error) {
	const query = `
		SELECT id, name, system_prompt, greeting,
		       voice, specialties, guard_rails, attributes, created_at, updated_at
		FROM persona_definitions
		WHERE id = $1`

	var def Definition
	var voiceJSON, spJSON, grJSON, attrJSON []byte

	err := s.db.QueryRow(ctx, query, id).Scan(
		&def.ID, &def.Name, &def.SystemPrompt, &def.Greeting,
		&voiceJSON, &spJSON, &grJSON, &attrJSON, &def.CreatedAt, &def.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("personastore: get %q: %w", id, err)
	}

	if err := unmarshalFields(&def, voiceJSON, spJSON, grJSON, attrJSON); err != nil {
		return nil, err
	}
	return &def, nil
}

// Update replaces an existing persona definition. It validates the new
// definition and returns an error if the persona is not found.
func (s *PostgresStore) Update(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	voiceJSON, spJSON, grJSON, attrJSON, err := marshalFields(def)
	if err != nil {
		return err
	}

	const query = `
		UPDATE persona_definitions SET
			name = $2, system_prompt = $3, greeting = $4,
			voice = $5, specialties = $6, guard_rails = $7,
			attributes = $8, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = s.db.QueryRow(ctx, query,
		def.ID, def.Name, def.SystemPrompt, def.Greeting,
		voiceJSON, spJSON, grJSON, attrJSON,
	).Scan(&def.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("personastore: persona with id %q not found", def.ID)
		}
		return fmt.Errorf("personastore: update: %w", err)
	}
	return nil
}

// Delete removes a persona definition by ID. Deleting a non-existent persona
// is not an error.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM persona_definitions WHERE id = $1`
	_, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("personastore: delete %q: %w", id, err)
	}
	return nil
}

// List returns all persona definitions, optionally filtered by specialty. An
// empty specialty returns all definitions.
func (s *PostgresStore) List(ctx context.Context, specialty string) ([]Definition, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if specialty == "" {
		const query = `
			SELECT id, name, system_prompt, greeting,
			       voice, specialties, guard_rails, attributes, created_at, updated_at
			FROM persona_definitions
			ORDER BY name`
		rows, err = s.db.Query(ctx, query)
	} else {
		const query = `
			SELECT id, name, system_prompt, greeting,
			       voice, specialties, guard_rails, attributes, created_at, updated_at
			FROM persona_definitions
			WHERE specialties ? $1
			ORDER BY name`
		rows, err = s.db.Query(ctx, query, specialty)
	}
	if err != nil {
		return nil, fmt.Errorf("personastore: list: %w", err)
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		var def Definition
		var voiceJSON, spJSON, grJSON, attrJSON []byte

		if err := rows.Scan(
			&def.ID, &def.Name, &def.SystemPrompt, &def.Greeting,
			&voiceJSON, &spJSON, &grJSON, &attrJSON, &def.CreatedAt, &def.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("personastore: list scan: %w", err)
		}

		if err := unmarshalFields(&def, voiceJSON, spJSON, grJSON, attrJSON); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("personastore: list: %w", err)
	}
	return defs, nil
}

// Upsert creates or replaces a persona definition. This is useful for
// importing definitions from YAML config files. The definition is validated
// before persistence.
func (s *PostgresStore) Upsert(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	voiceJSON, spJSON, grJSON, attrJSON, err := marshalFields(def)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO persona_definitions (
			id, name, system_prompt, greeting,
			voice, specialties, guard_rails, attributes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			system_prompt = EXCLUDED.system_prompt,
			greeting = EXCLUDED.greeting,
			voice = EXCLUDED.voice,
			specialties = EXCLUDED.specialties,
			guard_rails = EXCLUDED.guard_rails,
			attributes = EXCLUDED.attributes,
			updated_at = now()
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		def.ID, def.Name, def.SystemPrompt, def.Greeting,
		voiceJSON, spJSON, grJSON, attrJSON,
	).Scan(&def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("personastore: upsert: %w", err)
	}
	return nil
}

// marshalFields serialises the structured sub-fields of def into JSONB column
// values. Nil slices and maps are encoded as empty containers so the columns
// never hold SQL-visible nulls.
func marshalFields(def *Definition) (voice, sp, gr, attrs []byte, err error) {
	if voice, err = json.Marshal(def.Voice); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("personastore: marshal voice: %w", err)
	}
	if sp, err = json.Marshal(emptySlice(def.Specialties)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("personastore: marshal specialties: %w", err)
	}
	if gr, err = json.Marshal(emptySlice(def.GuardRails)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("personastore: marshal guard_rails: %w", err)
	}
	if attrs, err = json.Marshal(emptyMap(def.Attributes)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("personastore: marshal attributes: %w", err)
	}
	return voice, sp, gr, attrs, nil
}

// unmarshalFields deserialises the JSONB columns into the corresponding
// [Definition] fields.
func unmarshalFields(def *Definition, voice, sp, gr, attrs []byte) error {
	if err := json.Unmarshal(voice, &def.Voice); err != nil {
		return fmt.Errorf("personastore: unmarshal voice: %w", err)
	}
	if err := json.Unmarshal(sp, &def.Specialties); err != nil {
		return fmt.Errorf("personastore: unmarshal specialties: %w", err)
	}
	if err := json.Unmarshal(gr, &def.GuardRails); err != nil {
		return fmt.Errorf("personastore: unmarshal guard_rails: %w", err)
	}
	if err := json.Unmarshal(attrs, &def.Attributes); err != nil {
		return fmt.Errorf("personastore: unmarshal attributes: %w", err)
	}
	return nil
}

// emptySlice returns s if non-nil, otherwise an empty non-nil slice. This
// ensures JSON marshalling produces "[]" instead of "null".
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// emptyMap returns m if non-nil, otherwise an empty non-nil map. This ensures
// JSON marshalling produces "{}" instead of "null".
func emptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
