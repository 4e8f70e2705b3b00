package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// PrimaryVariantTitle is the canonical variant consumed by downstream
// stages when no variant is specified.
const PrimaryVariantTitle = "primary"

// CharacterRecord is the registry entry for one generated persona.
type CharacterRecord struct {
	ID          string            `json:"id" firestore:"id"`
	Name        string            `json:"name" firestore:"name"`
	Anime       string            `json:"anime" firestore:"anime"`
	Assets      []AssetVariant    `json:"assets" firestore:"assets"`
	Metadata    map[string]string `json:"metadata,omitempty" firestore:"metadata,omitempty"`
	Prompts     map[string]string `json:"prompts,omitempty" firestore:"prompts,omitempty"`
	LastUpdated time.Time         `json:"last_updated" firestore:"last_updated"`
}

// AssetVariant is one "look" (outfit/context) of a character. Fields are
// filled incrementally as pipeline stages complete; an empty field means
// "not yet produced", not an error.
type AssetVariant struct {
	Title          string            `json:"title" firestore:"title"`
	AnimeImage     string            `json:"anime_image,omitempty" firestore:"anime_image,omitempty"`
	CosplayImage   string            `json:"cosplay_image,omitempty" firestore:"cosplay_image,omitempty"`
	DanceVideo     string            `json:"dance_video,omitempty" firestore:"dance_video,omitempty"`
	MotionRefVideo string            `json:"motion_ref_video,omitempty" firestore:"motion_ref_video,omitempty"`
	Deliverable    string            `json:"deliverable,omitempty" firestore:"deliverable,omitempty"`
	Prompt         string            `json:"prompt,omitempty" firestore:"prompt,omitempty"`
	Remixes        map[string]string `json:"remixes,omitempty" firestore:"remixes,omitempty"`
}

// AssetPatch is a field-level merge applied to an AssetVariant. Only
// non-empty fields overwrite; applying the same patch twice is a no-op.
type AssetPatch struct {
	AnimeImage     string
	CosplayImage   string
	DanceVideo     string
	MotionRefVideo string
	Deliverable    string
	Prompt         string
	Remixes        map[string]string
}

// Apply merges the patch into the variant and reports whether anything changed.
func (p AssetPatch) Apply(v *AssetVariant) bool {
	changed := false
	set := func(dst *string, val string) {
		if val != "" && *dst != val {
			*dst = val
			changed = true
		}
	}
	set(&v.AnimeImage, p.AnimeImage)
	set(&v.CosplayImage, p.CosplayImage)
	set(&v.DanceVideo, p.DanceVideo)
	set(&v.MotionRefVideo, p.MotionRefVideo)
	set(&v.Deliverable, p.Deliverable)
	set(&v.Prompt, p.Prompt)
	for label, uri := range p.Remixes {
		if uri == "" {
			continue
		}
		if v.Remixes == nil {
			v.Remixes = make(map[string]string)
		}
		if v.Remixes[label] != uri {
			v.Remixes[label] = uri
			changed = true
		}
	}
	return changed
}

// IsZero reports whether the patch carries no fields at all.
func (p AssetPatch) IsZero() bool {
	return p.AnimeImage == "" && p.CosplayImage == "" && p.DanceVideo == "" &&
		p.MotionRefVideo == "" && p.Deliverable == "" && p.Prompt == "" && len(p.Remixes) == 0
}

// Variant returns the asset variant with the given title, or nil.
func (r *CharacterRecord) Variant(title string) *AssetVariant {
	for i := range r.Assets {
		if r.Assets[i].Title == title {
			return &r.Assets[i]
		}
	}
	return nil
}

// Primary returns the canonical variant, or nil when the record has none.
func (r *CharacterRecord) Primary() *AssetVariant {
	return r.Variant(PrimaryVariantTitle)
}

// Clone returns a deep copy safe to hand out of a store without exposing
// internal state to callers.
func (r *CharacterRecord) Clone() *CharacterRecord {
	cp := *r
	cp.Assets = make([]AssetVariant, len(r.Assets))
	for i, v := range r.Assets {
		cp.Assets[i] = v
		if v.Remixes != nil {
			cp.Assets[i].Remixes = make(map[string]string, len(v.Remixes))
			for k, val := range v.Remixes {
				cp.Assets[i].Remixes[k] = val
			}
		}
	}
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	if r.Prompts != nil {
		cp.Prompts = make(map[string]string, len(r.Prompts))
		for k, v := range r.Prompts {
			cp.Prompts[k] = v
		}
	}
	return &cp
}

var idSlugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// NewCharacterID derives a globally unique, immutable id from a character
// name and a creation time.
func NewCharacterID(name string, at time.Time) string {
	slug := idSlugPattern.ReplaceAllString(strings.ToLower(name), "_")
	slug = strings.Trim(slug, "_")
	return fmt.Sprintf("%s_%d", slug, at.Unix())
}
