package personastore

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// PersonaFile is the top-level structure of a persona YAML file.
//
// Example:
//
//	personas:
//	  - id: sensei
//	    name: "Sensei Marcus"
//	    system_prompt: "You are a patient martial arts instructor..."
//	    greeting: "Welcome to the dojo. How can I help you today?"
//	    voice:
//	      provider: elevenlabs
//	      voice_id: sensei-v1
type PersonaFile struct {
	Personas []Definition `yaml:"personas"`
}

// LoadFile reads and parses a persona YAML file from disk.
// Returns a descriptive error if the file cannot be opened or parsed.
func LoadFile(path string) (*PersonaFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("personastore: open persona file %q: %w", path, err)
	}
	defer f.Close()

	pf, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("personastore: parse persona file %q: %w", path, err)
	}
	return pf, nil
}

// LoadFromReader parses persona YAML from an [io.Reader].
// The reader is consumed entirely; the caller is responsible for closing it.
func LoadFromReader(r io.Reader) (*PersonaFile, error) {
	var pf PersonaFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("personastore: decode persona yaml: %w", err)
	}
	return &pf, nil
}

// Import upserts all definitions from a parsed [PersonaFile] into store.
// Returns the number of personas successfully imported. An error from the
// store aborts the import and returns the count so far.
func Import(ctx context.Context, store Store, file *PersonaFile) (int, error) {
	if file == nil {
		return 0, fmt.Errorf("personastore: persona file must not be nil")
	}
	count := 0
	for i := range file.Personas {
		def := file.Personas[i]
		if err := store.Upsert(ctx, &def); err != nil {
			return count, fmt.Errorf("personastore: import at index %d (name %q): %w", i, def.Name, err)
		}
		count++
	}
	return count, nil
}
