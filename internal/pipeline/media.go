package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log"

	"github.com/dse120071750/anime-dance-publisher/internal/client"
	"github.com/dse120071750/anime-dance-publisher/internal/model"
)

// createRemix concatenates all dance versions of a character into one remix
// clip. With fewer than two versions there is nothing to remix.
func (e *Executor) createRemix(ctx context.Context, rec *model.CharacterRecord) (*model.CharacterRecord, error) {
	versions := e.cfg.DanceVersions
	if versions <= 0 {
		versions = 1
	}

	var urls []string
	for v := 1; v <= versions; v++ {
		variant := rec.Variant(danceVariantTitle(v))
		if variant == nil || variant.DanceVideo == "" {
			continue
		}
		u, err := e.fetchableURL(ctx, variant.DanceVideo)
		if err != nil {
			return rec, fmt.Errorf("dance video url: %w", err)
		}
		urls = append(urls, u)
	}
	if len(urls) < 2 {
		return rec, nil
	}

	resp, err := e.deps.Compositor.ConcatRemix(ctx, &client.RemixRequest{
		VideoURLs: urls,
		OutputKey: e.assetKey(rec.ID, "remix.mp4"),
	})
	if err != nil {
		return rec, err
	}

	updated, err := e.deps.Registry.UpsertAsset(ctx, rec.ID, model.PrimaryVariantTitle, model.AssetPatch{
		Remixes: map[string]string{"remix": resp.OutputURL},
	})
	if err != nil {
		return rec, fmt.Errorf("remix upsert: %w", err)
	}
	return updated, nil
}

// composeDeliverable produces the final publishable video for the primary
// variant: optionally scores it with a generated soundtrack and stamps the
// watermark. When neither is requested the dance video itself is the
// deliverable.
func (e *Executor) composeDeliverable(ctx context.Context, rec *model.CharacterRecord, opts model.PipelineOptions) (*model.CharacterRecord, error) {
	primary := rec.Primary()
	if primary == nil || primary.DanceVideo == "" {
		return nil, fmt.Errorf("compose requires a dance video")
	}
	if primary.Deliverable != "" {
		return rec, nil
	}

	if !opts.CreateSoundtracks && !opts.ApplyWatermark {
		updated, err := e.deps.Registry.UpsertAsset(ctx, rec.ID, model.PrimaryVariantTitle, model.AssetPatch{
			Deliverable: primary.DanceVideo,
		})
		if err != nil {
			return nil, fmt.Errorf("deliverable upsert: %w", err)
		}
		return updated, nil
	}

	videoURL, err := e.fetchableURL(ctx, primary.DanceVideo)
	if err != nil {
		return nil, fmt.Errorf("dance video url: %w", err)
	}

	audioURL := ""
	if opts.CreateSoundtracks {
		url, err := e.generateSoundtrack(ctx, rec, opts)
		if err != nil {
			// The dance video still ships; it just keeps the vendor audio.
			log.Printf("[Pipeline] character %s soundtrack failed, composing without audio: %v", rec.ID, err)
		} else {
			audioURL = url
		}
	}

	scored, err := e.deps.Compositor.Compose(ctx, &client.ComposeRequest{
		VideoURL:  videoURL,
		AudioURL:  audioURL,
		Watermark: opts.ApplyWatermark,
		OutputKey: e.assetKey(rec.ID, "final.mp4"),
	})
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}

	patch := model.AssetPatch{Deliverable: scored.OutputURL}
	if audioURL != "" {
		// A scored deliverable gets a companion version that keeps the
		// reference's original audio, published under its own label.
		patch.Remixes = map[string]string{soundtrackLabel(opts.StyleID): scored.OutputURL}
		original, err := e.deps.Compositor.Compose(ctx, &client.ComposeRequest{
			VideoURL:  videoURL,
			Watermark: opts.ApplyWatermark,
			OutputKey: e.assetKey(rec.ID, "final_original.mp4"),
		})
		if err != nil {
			log.Printf("[Pipeline] character %s original-audio version failed: %v", rec.ID, err)
		} else {
			patch.Remixes["original"] = original.OutputURL
		}
	}

	updated, err := e.deps.Registry.UpsertAsset(ctx, rec.ID, model.PrimaryVariantTitle, patch)
	if err != nil {
		return nil, fmt.Errorf("deliverable upsert: %w", err)
	}
	return updated, nil
}

// soundtrackLabel names the generated-audio version after the style that
// scored it.
func soundtrackLabel(styleID string) string {
	if styleID == "" {
		return "generated"
	}
	return styleID
}

// generateSoundtrack asks the text model for a short musical brief matching
// the character, renders it with the music vendor and lands the track in
// our bucket.
func (e *Executor) generateSoundtrack(ctx context.Context, rec *model.CharacterRecord, opts model.PipelineOptions) (string, error) {
	brief, err := e.deps.Creative.GenerateText(ctx, soundtrackBriefPrompt(rec, opts.StyleID))
	if err != nil {
		return "", fmt.Errorf("soundtrack brief: %w", err)
	}

	track, err := e.deps.Music.GenerateTrack(ctx, &client.TrackRequest{Prompt: brief})
	if err != nil {
		return "", fmt.Errorf("soundtrack generation: %w", err)
	}

	key := e.assetKey(rec.ID, "soundtrack.mp3")
	if _, err := e.deps.Storage.Upload(ctx, key, bytes.NewReader(track.Audio), track.MIMEType); err != nil {
		return "", fmt.Errorf("soundtrack upload: %w", err)
	}
	return e.deps.Storage.GetSignedURL(ctx, key, motionPollMaxWait)
}

func soundtrackBriefPrompt(rec *model.CharacterRecord, styleID string) string {
	style := "upbeat k-pop dance track"
	if styleID != "" && styleID != "kpop_dance" {
		style = styleID
	}
	return fmt.Sprintf(
		"Write a one-paragraph music generation prompt for a 15 second %s "+
			"that fits a cosplay dance video of %s from %s. Describe tempo, "+
			"instrumentation and mood. Respond with the prompt text only.",
		style, rec.Name, rec.Anime)
}
