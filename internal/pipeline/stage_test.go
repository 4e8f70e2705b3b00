package pipeline

import (
	"testing"

	"github.com/dse120071750/anime-dance-publisher/internal/model"
)

func TestNextStage(t *testing.T) {
	tests := []struct {
		name    string
		variant *model.AssetVariant
		want    Stage
	}{
		{"nil variant", nil, StageAnimeImage},
		{"empty variant", &model.AssetVariant{Title: "primary"}, StageAnimeImage},
		{"anime only", &model.AssetVariant{AnimeImage: "a"}, StageCosplayImage},
		{"cosplay ready", &model.AssetVariant{AnimeImage: "a", CosplayImage: "c"}, StageDanceVideo},
		{"danced", &model.AssetVariant{AnimeImage: "a", CosplayImage: "c", DanceVideo: "d"}, StageCompose},
		{"finished", &model.AssetVariant{AnimeImage: "a", CosplayImage: "c", DanceVideo: "d", Deliverable: "f"}, StageDone},
		// A legacy record can carry a cosplay image without the anime
		// portrait; it resumes at the dance stage, not at the images.
		{"cosplay without anime image", &model.AssetVariant{CosplayImage: "c"}, StageDanceVideo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextStage(tt.variant); got != tt.want {
				t.Errorf("NextStage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNeedsDance(t *testing.T) {
	if NeedsDance(nil) {
		t.Error("nil variant should not need a dance")
	}
	if NeedsDance(&model.AssetVariant{AnimeImage: "a"}) {
		t.Error("variant without cosplay image should not need a dance")
	}
	if !NeedsDance(&model.AssetVariant{CosplayImage: "c"}) {
		t.Error("cosplay without dance video should need a dance")
	}
	if NeedsDance(&model.AssetVariant{CosplayImage: "c", DanceVideo: "d"}) {
		t.Error("variant with dance video should not need another")
	}
}
