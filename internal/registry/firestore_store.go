package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dse120071750/anime-dance-publisher/internal/model"
)

// FirestoreStore keeps one document per character in a Firestore collection.
// Read-modify-write operations run inside transactions so concurrent
// pipeline workers cannot clobber each other's asset merges.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = "characters"
	}
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) col() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

func (s *FirestoreStore) List(ctx context.Context) ([]*model.CharacterRecord, error) {
	docs, err := s.col().Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	out := make([]*model.CharacterRecord, 0, len(docs))
	for _, doc := range docs {
		var rec model.CharacterRecord
		if err := doc.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decode character %s: %w", doc.Ref.ID, err)
		}
		if rec.ID == "" {
			rec.ID = doc.Ref.ID
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*model.CharacterRecord, error) {
	doc, err := s.col().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get character %s: %w", id, err)
	}
	var rec model.CharacterRecord
	if err := doc.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("decode character %s: %w", id, err)
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return &rec, nil
}

func (s *FirestoreStore) Find(ctx context.Context, query string) (*model.CharacterRecord, error) {
	if rec, err := s.Get(ctx, query); err == nil {
		return rec, nil
	} else if status.Code(err) != codes.NotFound && err != ErrNotFound {
		return nil, err
	}

	// Firestore has no substring queries, so scan the collection. The
	// registry is small (hundreds of characters at most).
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var matches []*model.CharacterRecord
	for _, rec := range all {
		if strings.Contains(strings.ToLower(rec.ID), q) || strings.Contains(strings.ToLower(rec.Name), q) {
			matches = append(matches, rec)
		}
	}
	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		return nil, &AmbiguousError{Query: query, Matches: ids}
	}
}

func (s *FirestoreStore) Register(ctx context.Context, name, anime string, meta map[string]string) (*model.CharacterRecord, error) {
	existing, err := s.col().
		Where("name", "==", name).
		Where("anime", "==", anime).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query characters: %w", err)
	}
	if len(existing) > 0 {
		var rec model.CharacterRecord
		if err := existing[0].DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decode character %s: %w", existing[0].Ref.ID, err)
		}
		return &rec, nil
	}

	now := time.Now().UTC()
	rec := &model.CharacterRecord{
		ID:          model.NewCharacterID(name, now),
		Name:        name,
		Anime:       anime,
		Metadata:    meta,
		LastUpdated: now,
	}
	if _, err := s.col().Doc(rec.ID).Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create character %s: %w", rec.ID, err)
	}
	return rec, nil
}

func (s *FirestoreStore) UpsertAsset(ctx context.Context, id, variantTitle string, patch model.AssetPatch) (*model.CharacterRecord, error) {
	if variantTitle == "" {
		variantTitle = model.PrimaryVariantTitle
	}

	ref := s.col().Doc(id)
	var result *model.CharacterRecord
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var rec model.CharacterRecord
		created := false
		doc, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := doc.DataTo(&rec); err != nil {
				return err
			}
			if rec.ID == "" {
				rec.ID = id
			}
		case status.Code(err) == codes.NotFound:
			// Unknown ids get a stub record so stage outputs are never lost.
			rec = model.CharacterRecord{ID: id, Name: id}
			created = true
		default:
			return err
		}

		v := rec.Variant(variantTitle)
		if v == nil {
			rec.Assets = append(rec.Assets, model.AssetVariant{Title: variantTitle})
			v = &rec.Assets[len(rec.Assets)-1]
		}
		if patch.Apply(v) || created {
			rec.LastUpdated = time.Now().UTC()
			if err := tx.Set(ref, &rec); err != nil {
				return err
			}
		}
		result = &rec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert asset %s/%s: %w", id, variantTitle, err)
	}
	return result, nil
}

func (s *FirestoreStore) SetPrompt(ctx context.Context, id, key, prompt string) error {
	_, err := s.col().Doc(id).Update(ctx, []firestore.Update{
		{Path: "prompts." + key, Value: prompt},
		{Path: "last_updated", Value: time.Now().UTC()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return fmt.Errorf("set prompt %s/%s: %w", id, key, err)
	}
	return nil
}
