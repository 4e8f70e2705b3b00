package pipeline

import "github.com/dse120071750/anime-dance-publisher/internal/model"

// Stage names a unit of pipeline work for one character variant.
type Stage string

const (
	StageBrainstorm   Stage = "brainstorm"
	StageAnimeImage   Stage = "anime_image"
	StageCosplayImage Stage = "cosplay_image"
	StageDanceVideo   Stage = "dance_video"
	StageCompose      Stage = "compose"
	StageDone         Stage = "done"
)

// NextStage derives the next unit of work for a variant purely from which
// asset fields are already present. A nil variant means nothing has been
// produced yet. Re-running a character after a crash therefore resumes at
// exactly the first missing asset.
func NextStage(v *model.AssetVariant) Stage {
	switch {
	case v == nil:
		return StageAnimeImage
	case v.CosplayImage == "":
		// The anime portrait only matters as the cosplay source; once a
		// cosplay image exists the variant never goes back to image stages.
		if v.AnimeImage == "" {
			return StageAnimeImage
		}
		return StageCosplayImage
	case v.DanceVideo == "":
		return StageDanceVideo
	case v.Deliverable == "":
		return StageCompose
	default:
		return StageDone
	}
}

// NeedsDance reports whether a variant is a resume candidate: the cosplay
// image exists but no dance video has been produced from it yet.
func NeedsDance(v *model.AssetVariant) bool {
	return v != nil && v.CosplayImage != "" && v.DanceVideo == ""
}
