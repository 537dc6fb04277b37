package identity

// Snapshot is an immutable view of the store. Identities appear in
// insertion order, which is also the matcher's tie-break order.
//
// The *Identity values and their slices are shared between snapshots and
// must not be modified by callers.
type Snapshot struct {
	identities []*Identity
	index      map[string]int
	dim        int
}

// NewSnapshot builds a snapshot over ids in the given order.
func NewSnapshot(ids []*Identity) *Snapshot {
	s := &Snapshot{
		identities: ids,
		index:      make(map[string]int, len(ids)),
	}
	for i, id := range ids {
		s.index[id.Name] = i
		if s.dim == 0 && len(id.Variations) > 0 {
			s.dim = len(id.Variations[0].Embedding)
		}
	}
	return s
}

// Identities returns the identities in insertion order. Read only.
func (s *Snapshot) Identities() []*Identity { return s.identities }

func (s *Snapshot) Len() int { return len(s.identities) }

// Dim is the embedding dimensionality fixed by the first enrolled vector,
// or zero for an empty store.
func (s *Snapshot) Dim() int { return s.dim }

func (s *Snapshot) Get(name string) (*Identity, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.identities[i], true
}

// TotalVariations counts variations across all identities.
func (s *Snapshot) TotalVariations() int {
	n := 0
	for _, id := range s.identities {
		n += len(id.Variations)
	}
	return n
}

// with returns a snapshot where id replaces the identity of the same name,
// or is appended when the name is new.
func (s *Snapshot) with(id *Identity) *Snapshot {
	ids := make([]*Identity, len(s.identities), len(s.identities)+1)
	copy(ids, s.identities)
	if i, ok := s.index[id.Name]; ok {
		ids[i] = id
	} else {
		ids = append(ids, id)
	}
	return NewSnapshot(ids)
}

// without returns a snapshot lacking name.
func (s *Snapshot) without(name string) *Snapshot {
	ids := make([]*Identity, 0, len(s.identities))
	for _, id := range s.identities {
		if id.Name != name {
			ids = append(ids, id)
		}
	}
	return NewSnapshot(ids)
}
