package identity

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/renameio"
)

const (
	BlobFile     = "faces.gob"
	MetadataFile = "faces_metadata.json"

	blobVersion = 1
)

// blob is the binary layout: one entry per name with index-aligned lists.
type blob struct {
	Version int
	Order   []string
	Entries map[string]blobEntry
}

type blobEntry struct {
	Embeddings       [][]float32
	Images           []string
	ImageURLs        []string
	ImageKeys        []string
	Variations       []string
	VariationDates   []time.Time
	Model            string
	AddedDate        time.Time
	LastUpdated      time.Time
	TotalEmbeddings  int
	RecognitionCount int
	LastRecognized   *time.Time
}

// FilePersister keeps the store in a directory as a gob blob plus a JSON
// metadata export. Each file is replaced atomically; when the metadata
// write fails the previous blob is put back so the two never disagree.
type FilePersister struct {
	dir       string
	writeFile func(name string, data []byte, perm os.FileMode) error
	now       func() time.Time
}

func NewFilePersister(dir string) *FilePersister {
	return &FilePersister{dir: dir, writeFile: renameio.WriteFile, now: time.Now}
}

func (p *FilePersister) Name() string { return "file" }

func (p *FilePersister) blobPath() string { return filepath.Join(p.dir, BlobFile) }

func (p *FilePersister) metadataPath() string { return filepath.Join(p.dir, MetadataFile) }

// Load returns nil for a directory without a blob.
func (p *FilePersister) Load(_ context.Context) ([]*Identity, error) {
	data, err := os.ReadFile(p.blobPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", BlobFile, err)
	}

	var b blob
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrCorruptStore, BlobFile, err)
	}
	return b.identities()
}

func (p *FilePersister) Save(_ context.Context, snap *Snapshot) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(encodeBlob(snap)); err != nil {
		return fmt.Errorf("encode %s: %w", BlobFile, err)
	}
	meta, err := json.MarshalIndent(BuildMetadata(snap, p.now()), "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", MetadataFile, err)
	}

	prev, err := os.ReadFile(p.blobPath())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read previous %s: %w", BlobFile, err)
	}
	hadPrev := err == nil

	if err := p.writeFile(p.blobPath(), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", BlobFile, err)
	}

	if err := p.writeFile(p.metadataPath(), meta, 0o644); err != nil {
		var rbErr error
		if hadPrev {
			rbErr = p.writeFile(p.blobPath(), prev, 0o644)
		} else {
			rbErr = os.Remove(p.blobPath())
		}
		if rbErr != nil {
			return errors.Join(fmt.Errorf("write %s: %w", MetadataFile, err), fmt.Errorf("restore %s: %w", BlobFile, rbErr))
		}
		return fmt.Errorf("write %s: %w", MetadataFile, err)
	}
	return nil
}

// ReadMetadata reads the JSON export written by Save.
func (p *FilePersister) ReadMetadata() (Metadata, error) {
	var m Metadata
	data, err := os.ReadFile(p.metadataPath())
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode %s: %w", MetadataFile, err)
	}
	return m, nil
}

func encodeBlob(snap *Snapshot) blob {
	b := blob{
		Version: blobVersion,
		Order:   make([]string, 0, snap.Len()),
		Entries: make(map[string]blobEntry, snap.Len()),
	}
	for _, id := range snap.Identities() {
		n := len(id.Variations)
		e := blobEntry{
			Embeddings:       make([][]float32, n),
			Images:           make([]string, n),
			ImageURLs:        make([]string, n),
			ImageKeys:        make([]string, n),
			Variations:       make([]string, n),
			VariationDates:   make([]time.Time, n),
			Model:            id.Model,
			AddedDate:        id.AddedAt,
			LastUpdated:      id.UpdatedAt,
			TotalEmbeddings:  n,
			RecognitionCount: id.RecognitionCount,
			LastRecognized:   id.LastRecognized,
		}
		for i, v := range id.Variations {
			e.Embeddings[i] = v.Embedding
			e.Images[i] = v.Image.Path
			e.ImageURLs[i] = v.Image.URL
			e.ImageKeys[i] = v.Image.Key
			e.Variations[i] = v.Label
			e.VariationDates[i] = v.AddedAt
		}
		b.Order = append(b.Order, id.Name)
		b.Entries[id.Name] = e
	}
	return b
}

// identities validates the blob and rebuilds identities in stored order.
// Names missing from the order list are appended alphabetically.
func (b blob) identities() ([]*Identity, error) {
	if b.Version != blobVersion {
		return nil, fmt.Errorf("%w: unsupported blob version %d", ErrCorruptStore, b.Version)
	}

	order := make([]string, 0, len(b.Entries))
	seen := make(map[string]bool, len(b.Entries))
	for _, name := range b.Order {
		if _, ok := b.Entries[name]; ok && !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range b.Entries {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)

	dim := 0
	out := make([]*Identity, 0, len(order))
	for _, name := range order {
		e := b.Entries[name]
		n := len(e.Embeddings)
		if n == 0 {
			return nil, fmt.Errorf("%w: %q has no embeddings", ErrCorruptStore, name)
		}
		if len(e.Images) != n || len(e.ImageURLs) != n || len(e.ImageKeys) != n ||
			len(e.Variations) != n || len(e.VariationDates) != n || e.TotalEmbeddings != n {
			return nil, fmt.Errorf("%w: %q has misaligned variation lists", ErrCorruptStore, name)
		}

		id := &Identity{
			Name:             name,
			Model:            e.Model,
			AddedAt:          e.AddedDate,
			UpdatedAt:        e.LastUpdated,
			RecognitionCount: e.RecognitionCount,
			LastRecognized:   e.LastRecognized,
			Variations:       make([]Variation, n),
		}
		for i := 0; i < n; i++ {
			if dim == 0 {
				dim = len(e.Embeddings[i])
			}
			if len(e.Embeddings[i]) != dim {
				return nil, fmt.Errorf("%w: %q variation %d has dimension %d, want %d",
					ErrCorruptStore, name, i, len(e.Embeddings[i]), dim)
			}
			id.Variations[i] = Variation{
				Label:     e.Variations[i],
				Embedding: e.Embeddings[i],
				Image:     ImageRef{Path: e.Images[i], URL: e.ImageURLs[i], Key: e.ImageKeys[i]},
				AddedAt:   e.VariationDates[i],
			}
		}
		out = append(out, id)
	}
	return out, nil
}
