package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/your-org/facedoor/internal/observability"
)

// Persister writes and reads the whole store. Save must be atomic: after
// a failed Save the previously saved state is still the one Load returns.
type Persister interface {
	Load(ctx context.Context) ([]*Identity, error)
	Save(ctx context.Context, snap *Snapshot) error
	Name() string
}

// ImageCleaner removes stored images of deleted variations.
type ImageCleaner interface {
	RemoveImage(ctx context.Context, ref ImageRef) error
}

// Store is the identity store. Writers are serialized and persist the
// full store before the new state becomes visible; readers take a
// lock-free Snapshot.
type Store struct {
	mu        sync.Mutex
	current   atomic.Pointer[Snapshot]
	persister Persister
	cleaner   ImageCleaner
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Store)

// WithImageCleaner sets the hook run for images of deleted variations.
func WithImageCleaner(c ImageCleaner) Option {
	return func(s *Store) { s.cleaner = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open loads the persisted state through p.
func Open(ctx context.Context, p Persister, opts ...Option) (*Store, error) {
	s := &Store{
		persister: p,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}

	ids, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load identity store: %w", err)
	}
	snap := NewSnapshot(ids)
	s.current.Store(snap)
	s.observe(snap)

	s.logger.Info("identity store loaded",
		"backend", p.Name(), "identities", snap.Len(), "variations", snap.TotalVariations())
	return s, nil
}

// Snapshot returns the current consistent view.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Get returns a copy of the named identity.
func (s *Store) Get(name string) (Identity, error) {
	name = strings.TrimSpace(name)
	id, ok := s.Snapshot().Get(name)
	if !ok {
		return Identity{}, fmt.Errorf("identity %q: %w", name, ErrNotFound)
	}
	return id.detached(), nil
}

// List returns copies of all identities in insertion order.
func (s *Store) List() []Identity {
	snap := s.Snapshot()
	out := make([]Identity, 0, snap.Len())
	for _, id := range snap.Identities() {
		out = append(out, id.detached())
	}
	return out
}

// Append adds a variation, creating the identity when absent. In
// ModeCreate an existing name fails with ErrDuplicateIdentity.
func (s *Store) Append(ctx context.Context, e Enrollment, mode Mode) (VariationRecord, error) {
	name, err := NormalizeName(e.Name)
	if err != nil {
		return VariationRecord{}, err
	}
	label, err := NormalizeLabel(e.Label)
	if err != nil {
		return VariationRecord{}, err
	}
	if err := validateEmbedding(e.Embedding); err != nil {
		return VariationRecord{}, err
	}

	var rec VariationRecord
	err = s.mutate(ctx, func(cur *Snapshot) (*Snapshot, error) {
		if dim := cur.Dim(); dim != 0 && dim != len(e.Embedding) {
			return nil, fmt.Errorf("%w: store has %d, got %d", ErrDimensionMismatch, dim, len(e.Embedding))
		}

		now := s.now().UTC()
		v := Variation{
			Label:     label,
			Embedding: append([]float32(nil), e.Embedding...),
			Image:     e.Image,
			AddedAt:   now,
		}

		var next *Identity
		existing, ok := cur.Get(name)
		switch {
		case ok && mode == ModeCreate:
			return nil, fmt.Errorf("identity %q: %w", name, ErrDuplicateIdentity)
		case ok:
			next = existing.clone()
			next.Variations = append(next.Variations, v)
			next.UpdatedAt = now
			if e.Model != "" {
				next.Model = e.Model
			}
		default:
			next = &Identity{
				Name:       name,
				Model:      e.Model,
				AddedAt:    now,
				UpdatedAt:  now,
				Variations: []Variation{v},
			}
		}

		rec = VariationRecord{
			Name:            name,
			Label:           label,
			Index:           len(next.Variations) - 1,
			TotalVariations: len(next.Variations),
			Image:           v.Image,
			AddedAt:         now,
			Created:         !ok,
		}
		return cur.with(next), nil
	})
	if err != nil {
		return VariationRecord{}, err
	}
	return rec, nil
}

// DeleteIdentity removes name and all its variations. It reports false
// when the name is unknown.
func (s *Store) DeleteIdentity(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	var removed *Identity
	err := s.mutate(ctx, func(cur *Snapshot) (*Snapshot, error) {
		id, ok := cur.Get(name)
		if !ok {
			return nil, nil
		}
		removed = id
		return cur.without(name), nil
	})
	if err != nil || removed == nil {
		return false, err
	}

	for _, v := range removed.Variations {
		s.cleanup(ctx, name, v.Image)
	}
	return true, nil
}

// DeleteVariation removes the first variation of name labelled label.
// Removing the last variation removes the identity.
func (s *Store) DeleteVariation(ctx context.Context, name, label string) (bool, error) {
	name, label = strings.TrimSpace(name), strings.TrimSpace(label)
	var removed *Variation
	err := s.mutate(ctx, func(cur *Snapshot) (*Snapshot, error) {
		id, ok := cur.Get(name)
		if !ok {
			return nil, nil
		}
		idx := -1
		for i, v := range id.Variations {
			if v.Label == label {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, nil
		}

		v := id.Variations[idx]
		removed = &v
		if len(id.Variations) == 1 {
			return cur.without(name), nil
		}

		next := id.clone()
		next.Variations = append(next.Variations[:idx:idx], id.Variations[idx+1:]...)
		next.UpdatedAt = s.now().UTC()
		return cur.with(next), nil
	})
	if err != nil || removed == nil {
		return false, err
	}

	s.cleanup(ctx, name, removed.Image)
	return true, nil
}

// IncrementRecognitionCount bumps the counter and last-recognized time.
// Callers treat failures as best effort.
func (s *Store) IncrementRecognitionCount(ctx context.Context, name string) error {
	found := false
	err := s.mutate(ctx, func(cur *Snapshot) (*Snapshot, error) {
		id, ok := cur.Get(name)
		if !ok {
			return nil, nil
		}
		found = true
		now := s.now().UTC()
		next := id.clone()
		next.RecognitionCount++
		next.LastRecognized = &now
		return cur.with(next), nil
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("identity %q: %w", name, ErrNotFound)
	}
	return nil
}

// mutate runs fn under the writer lock. A nil snapshot from fn means no
// change. The new snapshot is published only after it was persisted.
func (s *Store) mutate(ctx context.Context, fn func(cur *Snapshot) (*Snapshot, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	next, err := fn(s.current.Load())
	if err != nil || next == nil {
		return err
	}

	start := time.Now()
	err = s.persister.Save(ctx, next)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.StoreWriteDuration.WithLabelValues(s.persister.Name(), outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("persist identity store: %w", err)
	}

	s.current.Store(next)
	s.observe(next)
	return nil
}

func (s *Store) cleanup(ctx context.Context, name string, ref ImageRef) {
	if s.cleaner == nil || ref.IsZero() {
		return
	}
	if err := s.cleaner.RemoveImage(ctx, ref); err != nil {
		s.logger.Warn("remove variation image", "name", name, "path", ref.Path, "key", ref.Key, "error", err)
	}
}

func (s *Store) observe(snap *Snapshot) {
	observability.StoreIdentities.Set(float64(snap.Len()))
	observability.StoreVariations.Set(float64(snap.TotalVariations()))
}
