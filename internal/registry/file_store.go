package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dse120071750/anime-dance-publisher/internal/model"
)

// FileStore persists the registry as a single JSON array of character
// records on disk. A .bak copy of the previous contents is written before
// each save. Access is serialized with an in-process mutex; the store
// assumes it is the only writer of the file.
type FileStore struct {
	path string

	mu         sync.Mutex
	characters map[string]*model.CharacterRecord
}

func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:       path,
		characters: make(map[string]*model.CharacterRecord),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read registry: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	// Current shape: a top-level array of records. Older deployments wrote
	// a {"characters": {id: record}} wrapper instead; accept both.
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err == nil {
		for i, raw := range entries {
			rec, err := decodeCharacter("", raw)
			if err != nil {
				return fmt.Errorf("parse character at index %d: %w", i, err)
			}
			if rec.ID == "" {
				return fmt.Errorf("character at index %d has no id", i)
			}
			s.characters[rec.ID] = rec
		}
		return nil
	}

	var doc struct {
		Characters map[string]json.RawMessage `json:"characters"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse registry: %w", err)
	}
	for id, raw := range doc.Characters {
		rec, err := decodeCharacter(id, raw)
		if err != nil {
			return fmt.Errorf("parse character %s: %w", id, err)
		}
		s.characters[id] = rec
	}
	return nil
}

// decodeCharacter handles both the current schema, where assets is a titled
// list of variants, and the legacy schema, where assets was a flat map of
// "<title>_image" / "<title>_dance" keys to urls.
func decodeCharacter(id string, raw json.RawMessage) (*model.CharacterRecord, error) {
	var rec model.CharacterRecord
	if err := json.Unmarshal(raw, &rec); err == nil {
		if rec.ID == "" {
			rec.ID = id
		}
		return &rec, nil
	}

	var legacy struct {
		ID          string            `json:"id"`
		Name        string            `json:"name"`
		Anime       string            `json:"anime"`
		Assets      map[string]string `json:"assets"`
		Metadata    map[string]string `json:"metadata"`
		Prompts     map[string]string `json:"prompts"`
		LastUpdated time.Time         `json:"last_updated"`
	}
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, err
	}

	rec = model.CharacterRecord{
		ID:          legacy.ID,
		Name:        legacy.Name,
		Anime:       legacy.Anime,
		Metadata:    legacy.Metadata,
		Prompts:     legacy.Prompts,
		LastUpdated: legacy.LastUpdated,
	}
	if rec.ID == "" {
		rec.ID = id
	}
	migrateLegacyAssets(&rec, legacy.Assets)
	return &rec, nil
}

// migrateLegacyAssets folds the flat asset map into titled variants. Keys
// named anime_image / cosplay_image / dance_video belong to the primary
// variant; other *_image and *_dance keys create a variant named by the
// stripped prefix.
func migrateLegacyAssets(rec *model.CharacterRecord, assets map[string]string) {
	for key, url := range assets {
		if url == "" {
			continue
		}
		var title string
		var patch model.AssetPatch
		switch {
		case key == "anime_image":
			title, patch = model.PrimaryVariantTitle, model.AssetPatch{AnimeImage: url}
		case key == "cosplay_image":
			title, patch = model.PrimaryVariantTitle, model.AssetPatch{CosplayImage: url}
		case key == "dance_video":
			title, patch = model.PrimaryVariantTitle, model.AssetPatch{DanceVideo: url}
		case key == "final_video" || key == "deliverable":
			title, patch = model.PrimaryVariantTitle, model.AssetPatch{Deliverable: url}
		case strings.HasSuffix(key, "_image"):
			title, patch = strings.TrimSuffix(key, "_image"), model.AssetPatch{CosplayImage: url}
		case strings.HasSuffix(key, "_dance_video"):
			title, patch = strings.TrimSuffix(key, "_dance_video"), model.AssetPatch{DanceVideo: url}
		case strings.HasSuffix(key, "_dance"):
			title, patch = strings.TrimSuffix(key, "_dance"), model.AssetPatch{DanceVideo: url}
		default:
			if rec.Metadata == nil {
				rec.Metadata = make(map[string]string)
			}
			rec.Metadata[key] = url
			continue
		}

		v := rec.Variant(title)
		if v == nil {
			rec.Assets = append(rec.Assets, model.AssetVariant{Title: title})
			v = &rec.Assets[len(rec.Assets)-1]
		}
		patch.Apply(v)
	}
}

// save writes the full registry as a JSON array, ordered by id so the
// file diffs cleanly. The previous file, if any, is copied to <path>.bak
// first so a failed write never loses the last good state. Callers must
// hold s.mu.
func (s *FileStore) save() error {
	ids := make([]string, 0, len(s.characters))
	for id := range s.characters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	records := make([]*model.CharacterRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, s.characters[id])
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	if prev, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(s.path+".bak", prev, 0o644); err != nil {
			return fmt.Errorf("write registry backup: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]*model.CharacterRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.CharacterRecord, 0, len(s.characters))
	for _, rec := range s.characters {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (s *FileStore) Get(ctx context.Context, id string) (*model.CharacterRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.characters[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *FileStore) Find(ctx context.Context, query string) (*model.CharacterRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.characters[query]; ok {
		return rec.Clone(), nil
	}

	q := strings.ToLower(query)
	var matches []string
	for id, rec := range s.characters {
		if strings.Contains(strings.ToLower(id), q) || strings.Contains(strings.ToLower(rec.Name), q) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return s.characters[matches[0]].Clone(), nil
	default:
		return nil, &AmbiguousError{Query: query, Matches: matches}
	}
}

func (s *FileStore) Register(ctx context.Context, name, anime string, meta map[string]string) (*model.CharacterRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.characters {
		if strings.EqualFold(rec.Name, name) && strings.EqualFold(rec.Anime, anime) {
			return rec.Clone(), nil
		}
	}

	now := time.Now().UTC()
	rec := &model.CharacterRecord{
		ID:          model.NewCharacterID(name, now),
		Name:        name,
		Anime:       anime,
		Metadata:    meta,
		LastUpdated: now,
	}
	s.characters[rec.ID] = rec
	if err := s.save(); err != nil {
		delete(s.characters, rec.ID)
		return nil, err
	}
	return rec.Clone(), nil
}

func (s *FileStore) UpsertAsset(ctx context.Context, id, variantTitle string, patch model.AssetPatch) (*model.CharacterRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.characters[id]
	if !ok {
		// Unknown ids get a stub record so stage outputs are never lost.
		rec = &model.CharacterRecord{ID: id, Name: id}
		s.characters[id] = rec
	}
	if variantTitle == "" {
		variantTitle = model.PrimaryVariantTitle
	}

	v := rec.Variant(variantTitle)
	if v == nil {
		rec.Assets = append(rec.Assets, model.AssetVariant{Title: variantTitle})
		v = &rec.Assets[len(rec.Assets)-1]
	}
	if !patch.Apply(v) && ok {
		// Nothing changed, skip the disk write.
		return rec.Clone(), nil
	}

	rec.LastUpdated = time.Now().UTC()
	if err := s.save(); err != nil {
		if !ok {
			delete(s.characters, id)
		}
		return nil, err
	}
	return rec.Clone(), nil
}

func (s *FileStore) SetPrompt(ctx context.Context, id, key, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.characters[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Prompts == nil {
		rec.Prompts = make(map[string]string)
	}
	if rec.Prompts[key] == prompt {
		return nil
	}
	rec.Prompts[key] = prompt
	rec.LastUpdated = time.Now().UTC()
	return s.save()
}
