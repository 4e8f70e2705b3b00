package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dse120071750/anime-dance-publisher/internal/client"
	"github.com/dse120071750/anime-dance-publisher/internal/model"
	"github.com/dse120071750/anime-dance-publisher/internal/registry"
)

// ErrNoDeliverable is returned when the selected character variant has no
// publishable video yet.
var ErrNoDeliverable = errors.New("no deliverable available")

// PublishService pushes finished deliverables to social platforms.
type PublishService struct {
	registry  registry.Store
	instagram client.ReelsPublisher
	tiktok    client.TikTokPublisher
	storage   client.StorageClient
}

func NewPublishService(reg registry.Store, ig client.ReelsPublisher, tt client.TikTokPublisher, storage client.StorageClient) *PublishService {
	return &PublishService{
		registry:  reg,
		instagram: ig,
		tiktok:    tt,
		storage:   storage,
	}
}

// PublishInstagram publishes a character's deliverable as a reel.
func (s *PublishService) PublishInstagram(ctx context.Context, req *model.PublishRequest) (*model.PublishResponse, error) {
	videoURL, rec, err := s.resolveVideo(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := s.instagram.PublishReel(ctx, videoURL, s.caption(req, rec))
	if err != nil {
		return nil, fmt.Errorf("instagram publish: %w", err)
	}
	return &model.PublishResponse{
		Platform:    "instagram",
		CharacterID: req.CharacterID,
		MediaID:     result.MediaID,
		PublishID:   result.ContainerID,
		Status:      "published",
	}, nil
}

// PublishTikTok publishes a character's deliverable as a TikTok post.
func (s *PublishService) PublishTikTok(ctx context.Context, req *model.PublishRequest) (*model.PublishResponse, error) {
	videoURL, rec, err := s.resolveVideo(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := s.tiktok.PublishVideo(ctx, videoURL, s.caption(req, rec))
	if err != nil {
		return nil, fmt.Errorf("tiktok publish: %w", err)
	}
	return &model.PublishResponse{
		Platform:    "tiktok",
		CharacterID: req.CharacterID,
		PublishID:   result.PublishID,
		Status:      strings.ToLower(result.Status),
	}, nil
}

// resolveVideo picks the video to publish: an explicit URL wins, otherwise
// the deliverable of the requested character variant. Stored gs:// URIs are
// exchanged for signed URLs the platform can pull from.
func (s *PublishService) resolveVideo(ctx context.Context, req *model.PublishRequest) (string, *model.CharacterRecord, error) {
	rec, err := s.registry.Find(ctx, req.CharacterID)
	if err != nil {
		return "", nil, err
	}

	uri := req.VideoURL
	if uri == "" {
		title := req.Variant
		if title == "" {
			title = model.PrimaryVariantTitle
		}
		v := rec.Variant(title)
		if v == nil || v.Deliverable == "" {
			return "", nil, fmt.Errorf("%w: character %s variant %s", ErrNoDeliverable, rec.ID, title)
		}
		uri = v.Deliverable
	}

	if strings.HasPrefix(uri, "gs://") {
		key := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
		if len(key) != 2 {
			return "", nil, fmt.Errorf("malformed storage uri %q", uri)
		}
		signed, err := s.storage.GetSignedURL(ctx, key[1], time.Hour)
		if err != nil {
			return "", nil, fmt.Errorf("failed to sign deliverable url: %w", err)
		}
		uri = signed
	}
	return uri, rec, nil
}

func (s *PublishService) caption(req *model.PublishRequest, rec *model.CharacterRecord) string {
	if req.Caption != "" {
		return req.Caption
	}
	return fmt.Sprintf("%s from %s cosplay dance 💃 #anime #cosplay #dance", rec.Name, rec.Anime)
}
