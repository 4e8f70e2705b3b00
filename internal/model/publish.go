package model

// PublishRequest asks for a character's deliverable to be posted to a
// social platform. The video must already be reachable at a public URL
// (GCS sync produces one).
type PublishRequest struct {
	CharacterID string `json:"character_id" validate:"required"`
	Variant     string `json:"variant,omitempty"`
	Caption     string `json:"caption,omitempty"`
	VideoURL    string `json:"video_url,omitempty" validate:"omitempty,url"`
}

// PublishResponse reports the outcome of a publish call.
type PublishResponse struct {
	Platform    string `json:"platform"`
	CharacterID string `json:"character_id"`
	MediaID     string `json:"media_id,omitempty"`
	PublishID   string `json:"publish_id,omitempty"`
	Status      string `json:"status"`
}
