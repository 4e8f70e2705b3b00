package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/dse120071750/anime-dance-publisher/internal/model"
)

var (
	// ErrNotFound is returned when no character matches the given id or name.
	ErrNotFound = errors.New("character not found")
	// ErrAmbiguous is returned when a substring lookup matches more than one
	// character. Callers must use the exact id instead.
	ErrAmbiguous = errors.New("ambiguous character match")
)

// Store is the character registry contract. Implementations persist
// CharacterRecord documents keyed by character id and support idempotent
// asset merges.
type Store interface {
	// List returns all known characters.
	List(ctx context.Context) ([]*model.CharacterRecord, error)

	// Get returns the character with the exact id.
	Get(ctx context.Context, id string) (*model.CharacterRecord, error)

	// Find resolves a query to a single character: exact id match first,
	// then case-insensitive substring match on id and name. Zero matches
	// return ErrNotFound; multiple substring matches return ErrAmbiguous.
	Find(ctx context.Context, query string) (*model.CharacterRecord, error)

	// Register creates a character if no record with the same (name, anime)
	// pair exists, and returns the existing record otherwise.
	Register(ctx context.Context, name, anime string, meta map[string]string) (*model.CharacterRecord, error)

	// UpsertAsset merges a patch into the named variant of the character,
	// creating the record and the variant when absent. Only non-empty
	// patch fields overwrite; applying the same patch twice is a no-op.
	UpsertAsset(ctx context.Context, id, variantTitle string, patch model.AssetPatch) (*model.CharacterRecord, error)

	// SetPrompt stores a named prompt on the character record.
	SetPrompt(ctx context.Context, id, key, prompt string) error
}

// AmbiguousError wraps ErrAmbiguous with the ids that matched, so callers
// can surface the candidates to the user.
type AmbiguousError struct {
	Query   string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous character match for %q: %v", e.Query, e.Matches)
}

func (e *AmbiguousError) Unwrap() error { return ErrAmbiguous }
