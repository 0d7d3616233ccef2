package personastore

import "context"

// Store provides CRUD operations for persona definitions.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new persona definition. The definition is validated
	// before insertion. A definition with an empty ID gets one auto-generated.
	// Returns an error if a persona with the same ID already exists.
	Create(ctx context.Context, def *Definition) error

	// Get retrieves a persona definition by ID. Returns (nil, nil) if not found.
	Get(ctx context.Context, id string) (*Definition, error)

	// Update replaces an existing persona definition. The definition is
	// validated before the update. Returns an error if the persona is not found.
	Update(ctx context.Context, def *Definition) error

	// Delete removes a persona definition by ID. Deleting a non-existent
	// persona is not an error.
	Delete(ctx context.Context, id string) error

	// List returns all persona definitions, optionally filtered by specialty.
	// An empty specialty returns all definitions.
	List(ctx context.Context, specialty string) ([]Definition, error)

	// Upsert creates or replaces a persona definition (useful for YAML import).
	// The definition is validated before persistence.
	Upsert(ctx context.Context, def *Definition) error
}
