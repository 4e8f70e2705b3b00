package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log"

	"github.com/dse120071750/anime-dance-publisher/internal/client"
	"github.com/dse120071750/anime-dance-publisher/internal/model"
)

// resolveTargets picks the characters this job will work on. Resume
// candidates come first: characters whose cosplay image exists but whose
// dance video was never produced (an earlier run died in between). The
// remaining slots are filled by brainstorming new characters, excluding
// every name already in the registry.
func (e *Executor) resolveTargets(ctx context.Context, jobID string, opts model.PipelineOptions) ([]*model.CharacterRecord, error) {
	existing, err := e.deps.Registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list registry: %w", err)
	}

	var targets []*model.CharacterRecord
	if opts.SkipExisting {
		for _, rec := range existing {
			if NeedsDance(rec.Primary()) {
				targets = append(targets, rec)
				if len(targets) == opts.Count {
					break
				}
			}
		}
		if len(targets) > 0 {
			log.Printf("[Pipeline] job %s resuming %d interrupted characters", jobID, len(targets))
		}
	}

	remaining := opts.Count - len(targets)
	if remaining <= 0 {
		return targets, nil
	}

	names := make([]string, 0, len(existing))
	for _, rec := range existing {
		names = append(names, rec.Name)
	}
	ideas, err := e.deps.Creative.BrainstormCharacters(ctx, remaining, names)
	if err != nil {
		return nil, fmt.Errorf("brainstorm failed: %w", err)
	}

	for _, idea := range ideas {
		rec, err := e.deps.Registry.Register(ctx, idea.Name, idea.Anime, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", idea.Name, err)
		}
		targets = append(targets, rec)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no generation targets selected")
	}
	return targets, nil
}

// ensureAnimeImage generates the stylized source portrait for a character
// and records both the image and the prompt that produced it.
func (e *Executor) ensureAnimeImage(ctx context.Context, rec *model.CharacterRecord, opts model.PipelineOptions) (*model.CharacterRecord, error) {
	prompt := animeImagePrompt(rec, opts.StyleID)

	img, err := e.deps.Creative.GenerateImage(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("anime image generation: %w", err)
	}

	key := e.assetKey(rec.ID, "anime.png")
	uri, err := e.deps.Storage.Upload(ctx, key, bytes.NewReader(img.Data), img.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("anime image upload: %w", err)
	}

	updated, err := e.deps.Registry.UpsertAsset(ctx, rec.ID, model.PrimaryVariantTitle, model.AssetPatch{
		AnimeImage: uri,
		Prompt:     prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("anime image upsert: %w", err)
	}
	return updated, nil
}

// ensureCosplayImage converts the anime portrait into a photorealistic
// cosplay image, feeding the source image back as a reference.
func (e *Executor) ensureCosplayImage(ctx context.Context, rec *model.CharacterRecord, opts model.PipelineOptions) (*model.CharacterRecord, error) {
	primary := rec.Primary()
	if primary == nil || primary.AnimeImage == "" {
		return nil, fmt.Errorf("cosplay conversion requires an anime image")
	}

	ref, err := e.downloadAsset(ctx, primary.AnimeImage)
	if err != nil {
		return nil, fmt.Errorf("cosplay source download: %w", err)
	}

	prompt := cosplayImagePrompt(rec)
	img, err := e.deps.Creative.GenerateImage(ctx, prompt, ref)
	if err != nil {
		return nil, fmt.Errorf("cosplay image generation: %w", err)
	}

	key := e.assetKey(rec.ID, "cosplay.png")
	uri, err := e.deps.Storage.Upload(ctx, key, bytes.NewReader(img.Data), img.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("cosplay image upload: %w", err)
	}

	updated, err := e.deps.Registry.UpsertAsset(ctx, rec.ID, model.PrimaryVariantTitle, model.AssetPatch{
		CosplayImage: uri,
	})
	if err != nil {
		return nil, fmt.Errorf("cosplay image upsert: %w", err)
	}
	return updated, nil
}

// downloadAsset loads an asset into memory from our bucket or, for plain
// http(s) URLs, from the network.
func (e *Executor) downloadAsset(ctx context.Context, uri string) (*client.ImageData, error) {
	if key, ok := objectKey(uri); ok {
		data, err := e.deps.Storage.Download(ctx, key)
		if err != nil {
			return nil, err
		}
		return &client.ImageData{MIMEType: "image/png", Data: data}, nil
	}
	data, contentType, err := client.FetchBytes(ctx, uri)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "image/png"
	}
	return &client.ImageData{MIMEType: contentType, Data: data}, nil
}

func animeImagePrompt(rec *model.CharacterRecord, styleID string) string {
	style := "energetic k-pop dance performance"
	if styleID != "" && styleID != "kpop_dance" {
		style = styleID
	}
	return fmt.Sprintf(
		"Full-body anime illustration of %s from %s, standing in a neutral pose "+
			"facing the camera, crisp lineart, vibrant colors, studio lighting, "+
			"plain background, outfit suitable for an %s. Vertical 9:16 framing, "+
			"the whole figure visible head to toe.",
		rec.Name, rec.Anime, style)
}

func cosplayImagePrompt(rec *model.CharacterRecord) string {
	return fmt.Sprintf(
		"Transform this illustration into a photorealistic photo of a cosplayer "+
			"portraying %s from %s. Keep the exact outfit, hair color and pose. "+
			"Professional cosplay photography, natural skin, studio background, "+
			"vertical 9:16 framing, full body visible.",
		rec.Name, rec.Anime)
}
