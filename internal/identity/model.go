// Package identity holds enrolled identities and their face variations.
package identity

import (
	"errors"
	"time"
)

var (
	ErrDuplicateIdentity = errors.New("identity already exists")
	ErrNotFound          = errors.New("not found")
	ErrInvalidName       = errors.New("invalid identity name")
	ErrInvalidLabel      = errors.New("invalid variation label")
	ErrInvalidEmbedding  = errors.New("invalid embedding")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrCorruptStore means persisted data failed validation on load.
	ErrCorruptStore = errors.New("corrupt identity store")
)

// DefaultLabel is used when an enrollment carries no label.
const DefaultLabel = "default"

// ImageRef points at the stored source image of a variation. Any field
// may be empty.
type ImageRef struct {
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
	Key  string `json:"key,omitempty"`
}

func (r ImageRef) IsZero() bool { return r == ImageRef{} }

// Variation is one enrolled face sample.
type Variation struct {
	Label     string
	Embedding []float32
	Image     ImageRef
	AddedAt   time.Time
}

// Identity is a named person with at least one variation.
type Identity struct {
	Name             string
	Model            string
	AddedAt          time.Time
	UpdatedAt        time.Time
	RecognitionCount int
	LastRecognized   *time.Time
	Variations       []Variation
}

// Labels returns the variation labels in enrollment order.
func (i *Identity) Labels() []string {
	out := make([]string, len(i.Variations))
	for k, v := range i.Variations {
		out[k] = v.Label
	}
	return out
}

func (i *Identity) clone() *Identity {
	c := *i
	c.Variations = append([]Variation(nil), i.Variations...)
	if i.LastRecognized != nil {
		t := *i.LastRecognized
		c.LastRecognized = &t
	}
	return &c
}

// detached returns a copy that shares no memory with the snapshot,
// embeddings included.
func (i *Identity) detached() Identity {
	c := i.clone()
	for k := range c.Variations {
		c.Variations[k].Embedding = append([]float32(nil), c.Variations[k].Embedding...)
	}
	return *c
}

// Mode selects how Append treats an existing name.
type Mode int

const (
	// ModeAppend adds a variation, creating the identity when absent.
	ModeAppend Mode = iota
	// ModeCreate fails with ErrDuplicateIdentity when the name exists.
	ModeCreate
)

// Enrollment is the input of Append.
type Enrollment struct {
	Name      string
	Label     string
	Model     string
	Embedding []float32
	Image     ImageRef
}

// VariationRecord describes a variation after it was committed.
type VariationRecord struct {
	Name            string
	Label           string
	Index           int
	TotalVariations int
	Image           ImageRef
	AddedAt         time.Time
	Created         bool
}
