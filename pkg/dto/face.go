package dto

// EnrollRequest is the JSON (or multipart form) body of POST /v1/faces.
// Image is base64 or a data URL; multipart uploads send it as a file.
type EnrollRequest struct {
	Name  string `json:"name" form:"name"`
	Label string `json:"label" form:"label"`
	Mode  string `json:"mode" form:"mode"` // append (default) or create
	Image string `json:"image" form:"-"`
}

type RecognizeRequest struct {
	Image string `json:"image"`
}

// CaptureEnrollRequest enrolls a frame from the door camera.
type CaptureEnrollRequest struct {
	Name  string `json:"name" binding:"required"`
	Label string `json:"label"`
	Mode  string `json:"mode"`
}

type EnrollmentResult struct {
	Name            string `json:"name"`
	VariationLabel  string `json:"variation_label"`
	TotalVariations int    `json:"total_variations"`
	Created         bool   `json:"created"`
	ImageURL        string `json:"image_url,omitempty"`
}

type EnrollResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Result  EnrollmentResult `json:"result"`
}

type CandidateResponse struct {
	Name     string  `json:"name"`
	Label    string  `json:"label"`
	Distance float64 `json:"distance"`
}

// MatchResult reports a recognition decision. Name is null when nothing
// was enrolled.
type MatchResult struct {
	Recognized      bool                `json:"recognized"`
	Name            *string             `json:"name"`
	Label           string              `json:"label,omitempty"`
	Confidence      float64             `json:"confidence"`
	Distance        float64             `json:"distance"`
	Threshold       float64             `json:"threshold"`
	Model           string              `json:"model"`
	Metric          string              `json:"distance_metric"`
	DoorCommandSent bool                `json:"door_command_sent"`
	EventID         string              `json:"event_id"`
	ImageURL        string              `json:"image_url,omitempty"`
	TopMatches      []CandidateResponse `json:"top_matches,omitempty"`
}

type RecognizeResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Result  MatchResult `json:"result"`
}

type IdentityResponse struct {
	Name             string   `json:"name"`
	Variations       []string `json:"variations"`
	TotalVariations  int      `json:"total_variations"`
	RecognitionCount int      `json:"recognition_count"`
	AddedAt          string   `json:"added_at"`
	LastRecognized   *string  `json:"last_recognized,omitempty"`
}

type IdentityListResponse struct {
	Faces []IdentityResponse `json:"faces"`
	Total int                `json:"total"`
}

type VariationResponse struct {
	Label    string `json:"label"`
	ImageURL string `json:"image_url,omitempty"`
	AddedAt  string `json:"added_at"`
}

type VariationListResponse struct {
	Name       string              `json:"name"`
	Variations []VariationResponse `json:"variations"`
	Total      int                 `json:"total"`
}
