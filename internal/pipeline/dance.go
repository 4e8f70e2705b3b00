package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dse120071750/anime-dance-publisher/internal/client"
	"github.com/dse120071750/anime-dance-publisher/internal/model"
)

const (
	motionPollInterval = 10 * time.Second
	motionPollMaxWait  = 20 * time.Minute
)

// danceVariantTitle names the variant holding the n-th dance version.
// Version 1 is the primary variant.
func danceVariantTitle(n int) string {
	if n == 1 {
		return model.PrimaryVariantTitle
	}
	return fmt.Sprintf("dance_%d", n)
}

// generateDances produces up to cfg.DanceVersions dance videos for a
// character, each driven by a distinct reference video sampled from the
// pool. A failed version is logged and skipped; the character counts as
// partial when fewer versions than requested come out.
func (e *Executor) generateDances(ctx context.Context, jobID string, rec *model.CharacterRecord, refs []string, opts model.PipelineOptions) (*model.CharacterRecord, int, int, error) {
	primary := rec.Primary()
	if primary == nil || primary.CosplayImage == "" {
		return nil, 0, 0, fmt.Errorf("dance generation requires a cosplay image")
	}

	versions := e.cfg.DanceVersions
	if versions <= 0 {
		versions = 1
	}
	sampled := e.sampleReferences(refs, versions)
	requested := len(sampled)

	// Versions produced by an earlier, interrupted run still count.
	generated := 0
	for v := 1; v <= versions; v++ {
		if variant := rec.Variant(danceVariantTitle(v)); variant != nil && variant.DanceVideo != "" {
			generated++
		}
	}

	// nextSlot is the lowest version still missing a dance video. The first
	// success always lands on the primary variant, so a failed reference
	// never leaves the character without a publishable video.
	nextSlot := func() int {
		for v := 1; v <= versions; v++ {
			if variant := rec.Variant(danceVariantTitle(v)); variant == nil || variant.DanceVideo == "" {
				return v
			}
		}
		return 0
	}

	for _, refURL := range sampled {
		slot := nextSlot()
		if slot == 0 {
			break
		}
		if e.cancelled(ctx, jobID) {
			break
		}

		uri, err := e.generateOneDance(ctx, rec.ID, slot, primary.CosplayImage, refURL, opts)
		if err != nil {
			log.Printf("[Pipeline] character %s dance version %d failed: %v", rec.ID, slot, err)
			_ = e.deps.Jobs.AddError(ctx, jobID, fmt.Sprintf("character %s: dance version %d: %v", rec.ID, slot, err))
			continue
		}

		rec, err = e.deps.Registry.UpsertAsset(ctx, rec.ID, danceVariantTitle(slot), model.AssetPatch{
			CosplayImage:   primary.CosplayImage,
			DanceVideo:     uri,
			MotionRefVideo: refURL,
		})
		if err != nil {
			return nil, generated, requested, fmt.Errorf("dance video upsert: %w", err)
		}
		generated++
	}

	if generated == 0 {
		return nil, 0, requested, fmt.Errorf("no dance videos produced")
	}
	return rec, generated, requested, nil
}

// generateOneDance runs one motion transfer round trip: align the cosplay
// image to the reference, submit, poll, download the vendor output and land
// it in our bucket.
func (e *Executor) generateOneDance(ctx context.Context, charID string, version int, cosplayURI, refURL string, opts model.PipelineOptions) (string, error) {
	fetchableRef, err := e.fetchableURL(ctx, refURL)
	if err != nil {
		return "", fmt.Errorf("reference video url: %w", err)
	}

	alignedURL, err := e.alignToReference(ctx, charID, version, cosplayURI, fetchableRef)
	if err != nil {
		return "", fmt.Errorf("alignment: %w", err)
	}

	submit, err := e.deps.Motion.SubmitMotionJob(ctx, &client.MotionRequest{
		ImageURL:    alignedURL,
		VideoURL:    fetchableRef,
		Prompt:      fmt.Sprintf("person dancing, %s style, smooth natural movement", opts.StyleID),
		AspectRatio: "9:16",
	})
	if err != nil {
		return "", fmt.Errorf("motion submit: %w", err)
	}

	result, err := e.deps.Motion.PollMotionResult(ctx, submit.RequestID, motionPollInterval, motionPollMaxWait)
	if err != nil {
		return "", fmt.Errorf("motion poll: %w", err)
	}
	if result.Video.URL == "" {
		return "", fmt.Errorf("motion result has no video url")
	}

	data, contentType, err := client.FetchBytes(ctx, result.Video.URL)
	if err != nil {
		return "", fmt.Errorf("motion result download: %w", err)
	}
	if contentType == "" {
		contentType = "video/mp4"
	}

	key := e.assetKey(charID, fmt.Sprintf("dance_%d.mp4", version))
	uri, err := e.deps.Storage.Upload(ctx, key, bytes.NewReader(data), contentType)
	if err != nil {
		return "", fmt.Errorf("dance video upload: %w", err)
	}
	return uri, nil
}

// alignToReference poses the cosplayer onto the reference video's opening
// frame before motion transfer, so the generated dance starts from the
// same stance the reference starts from. Returns a vendor-fetchable URL of
// the aligned image.
func (e *Executor) alignToReference(ctx context.Context, charID string, version int, cosplayURI, refVideoURL string) (string, error) {
	frame, err := e.deps.Compositor.ExtractFrame(ctx, &client.FrameRequest{
		VideoURL:  refVideoURL,
		Timestamp: 0,
		OutputKey: e.assetKey(charID, fmt.Sprintf("ref_frame_%d.png", version)),
	})
	if err != nil {
		return "", fmt.Errorf("frame extraction: %w", err)
	}

	cosplayImg, err := e.downloadAsset(ctx, cosplayURI)
	if err != nil {
		return "", fmt.Errorf("cosplay image download: %w", err)
	}
	frameImg, err := e.downloadAsset(ctx, frame.OutputURL)
	if err != nil {
		return "", fmt.Errorf("reference frame download: %w", err)
	}

	prompt := alignmentPrompt()
	img, err := e.deps.Creative.GenerateImage(ctx, prompt, cosplayImg, frameImg)
	if err != nil {
		return "", fmt.Errorf("aligned image generation: %w", err)
	}

	key := e.assetKey(charID, fmt.Sprintf("aligned_%d.png", version))
	uri, err := e.deps.Storage.Upload(ctx, key, bytes.NewReader(img.Data), img.MIMEType)
	if err != nil {
		return "", fmt.Errorf("aligned image upload: %w", err)
	}
	if err := e.deps.Registry.SetPrompt(ctx, charID, "alignment_"+danceVariantTitle(version), prompt); err != nil {
		log.Printf("[Pipeline] character %s: failed to record alignment prompt: %v", charID, err)
	}
	return e.fetchableURL(ctx, uri)
}

func alignmentPrompt() string {
	return "Repose the cosplayer from the first image to exactly match the body " +
		"pose of the person in the second image. Keep the cosplayer's face, hair, " +
		"outfit and the studio background identical. Photorealistic, vertical " +
		"9:16 framing, full body visible."
}
