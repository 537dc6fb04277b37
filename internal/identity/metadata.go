package identity

import "time"

// MetadataVersion is bumped whenever Metadata changes shape.
const MetadataVersion = 1

// Metadata is the human-readable export of the store. It mirrors the
// binary state on every write.
type Metadata struct {
	Version    int                         `json:"version"`
	UpdatedAt  time.Time                   `json:"updated_at"`
	Order      []string                    `json:"order"`
	Identities map[string]IdentityMetadata `json:"identities"`
}

type IdentityMetadata struct {
	Model            string              `json:"model"`
	AddedDate        time.Time           `json:"added_date"`
	LastUpdated      time.Time           `json:"last_updated"`
	TotalEmbeddings  int                 `json:"total_embeddings"`
	RecognitionCount int                 `json:"recognition_count"`
	LastRecognized   *time.Time          `json:"last_recognized,omitempty"`
	Variations       []VariationMetadata `json:"variations"`
}

type VariationMetadata struct {
	Type      string    `json:"type"`
	ImagePath string    `json:"image_path,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	AddedDate time.Time `json:"added_date"`
}

// BuildMetadata derives the export record from snap.
func BuildMetadata(snap *Snapshot, now time.Time) Metadata {
	m := Metadata{
		Version:    MetadataVersion,
		UpdatedAt:  now.UTC(),
		Order:      make([]string, 0, snap.Len()),
		Identities: make(map[string]IdentityMetadata, snap.Len()),
	}
	for _, id := range snap.Identities() {
		im := IdentityMetadata{
			Model:            id.Model,
			AddedDate:        id.AddedAt,
			LastUpdated:      id.UpdatedAt,
			TotalEmbeddings:  len(id.Variations),
			RecognitionCount: id.RecognitionCount,
			LastRecognized:   id.LastRecognized,
			Variations:       make([]VariationMetadata, len(id.Variations)),
		}
		for i, v := range id.Variations {
			im.Variations[i] = VariationMetadata{
				Type:      v.Label,
				ImagePath: v.Image.Path,
				ImageURL:  v.Image.URL,
				AddedDate: v.AddedAt,
			}
		}
		m.Order = append(m.Order, id.Name)
		m.Identities[id.Name] = im
	}
	return m
}
