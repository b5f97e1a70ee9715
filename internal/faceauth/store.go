package faceauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/storage"
)

var memberIDPattern = regexp.MustCompile(`^[A-Za-z0-9._@-]{1,128}$`)

// ValidateMemberID checks that id can key the metadata file and name a
// per-member image directory.
func ValidateMemberID(id string) error {
	if !memberIDPattern.MatchString(id) || id == "." || id == ".." {
		return fmt.Errorf("%w: member id %q must be 1-128 characters of letters, digits, '.', '_', '@' or '-'", ErrInvalidInput, id)
	}
	return nil
}

func mainImageName(id, ext string) string {
	return fmt.Sprintf("%s_main.%s", id, ext)
}

// revisedMainImageName names the main image written by an update when the
// plain main name is still in use.
func revisedMainImageName(id string, rev int, ext string) string {
	return fmt.Sprintf("%s_main_r%d.%s", id, rev, ext)
}

func extraImageName(id string, n int, ext string) string {
	return fmt.Sprintf("%s_%d.%s", id, n, ext)
}

// Store is the enrollment store: a metadata file mapping member id to
// member record, and an ImageStore with the reference images.
//
// The metadata file is read once by OpenStore. Every mutation writes it
// through before the in-memory snapshot changes, so memory never holds
// state that is not on disk.
type Store struct {
	path   string
	images ImageStore
	now    func() time.Time

	// writeMu serialises mutations; mu guards the snapshot below.
	writeMu sync.Mutex
	mu      sync.RWMutex

	members     map[string]models.Member
	order       []string
	quarantined map[string]json.RawMessage
}

// OpenStore loads the metadata file at path. A missing file is an empty store.
func OpenStore(path string, images ImageStore, now func() time.Time) (*Store, error) {
	if now == nil {
		now = time.Now
	}
	s := &Store{
		path:        path,
		images:      images,
		now:         now,
		members:     make(map[string]models.Member),
		quarantined: make(map[string]json.RawMessage),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read metadata: %v", ErrStorageFailure, err)
	}
	if len(data) == 0 {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: parse metadata %s: %v", ErrStorageFailure, s.path, err)
	}

	for id, entry := range raw {
		m, err := decodeMember(id, entry)
		if err != nil {
			slog.Warn("quarantined malformed member entry", "member", id, "error", err)
			s.quarantined[id] = entry
			continue
		}
		s.members[id] = m
	}
	s.order = sortedIDs(s.members)

	slog.Info("enrollment store loaded", "path", s.path, "members", len(s.members), "quarantined", len(s.quarantined))
	return nil
}

func decodeMember(id string, entry json.RawMessage) (models.Member, error) {
	if err := ValidateMemberID(id); err != nil {
		return models.Member{}, err
	}
	var m models.Member
	if err := json.Unmarshal(entry, &m); err != nil {
		return models.Member{}, fmt.Errorf("decode: %w", err)
	}
	m.ID = id
	switch {
	case m.FullName == "":
		return models.Member{}, errors.New("missing full_name")
	case m.RegisteredAt.IsZero():
		return models.Member{}, errors.New("missing registered_at")
	case len(m.Images) == 0:
		return models.Member{}, errors.New("no reference images")
	case m.PhotoCount != len(m.Images):
		return models.Member{}, fmt.Errorf("photo_count %d does not match %d images", m.PhotoCount, len(m.Images))
	}
	return m, nil
}

// sortedIDs orders members by registration time, then id.
func sortedIDs(members map[string]models.Member) []string {
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := members[ids[i]], members[ids[j]]
		if !a.RegisteredAt.Equal(b.RegisteredAt) {
			return a.RegisteredAt.Before(b.RegisteredAt)
		}
		return ids[i] < ids[j]
	})
	return ids
}

// commit writes next to disk and, only on success, makes it the snapshot.
// Callers hold writeMu.
func (s *Store) commit(next map[string]models.Member, quarantined map[string]json.RawMessage) error {
	doc := make(map[string]any, len(next)+len(quarantined))
	for id, entry := range quarantined {
		doc[id] = entry
	}
	for id, m := range next {
		doc[id] = m
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode metadata: %v", ErrStorageFailure, err)
	}
	if err := storage.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("%w: write metadata: %v", ErrStorageFailure, err)
	}

	order := sortedIDs(next)
	s.mu.Lock()
	s.members = next
	s.quarantined = quarantined
	s.order = order
	s.mu.Unlock()
	return nil
}

func (s *Store) cloneState() (map[string]models.Member, map[string]json.RawMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make(map[string]models.Member, len(s.members)+1)
	for id, m := range s.members {
		members[id] = m
	}
	quarantined := make(map[string]json.RawMessage, len(s.quarantined))
	for id, raw := range s.quarantined {
		quarantined[id] = raw
	}
	return members, quarantined
}

// Put creates a member with img as its main reference image. An existing id
// fails with ErrDuplicateMember unless update is set; an update replaces
// name, role and the whole reference set but keeps the registration time.
// The image is written before the metadata commit, which is the durability
// point.
func (s *Store) Put(ctx context.Context, id string, info models.MemberInfo, img Image, update bool) (models.Member, error) {
	if err := ValidateMemberID(id); err != nil {
		return models.Member{}, err
	}
	if info.FullName == "" {
		return models.Member{}, fmt.Errorf("%w: full name is required", ErrInvalidInput)
	}
	if len(img.Data) == 0 {
		return models.Member{}, fmt.Errorf("%w: empty image", ErrInvalidInput)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	members, quarantined := s.cloneState()
	prev, exists := members[id]
	_, wasQuarantined := quarantined[id]
	if (exists || wasQuarantined) && !update {
		return models.Member{}, fmt.Errorf("%w: %s", ErrDuplicateMember, id)
	}

	// The new main image never overwrites a stored file: until the commit
	// succeeds, the current record must keep pointing at its own images.
	taken := make(map[string]bool)
	if exists || wasQuarantined {
		stored, err := s.images.List(ctx, id)
		if err != nil {
			return models.Member{}, fmt.Errorf("%w: list images: %v", ErrStorageFailure, err)
		}
		for _, n := range stored {
			taken[n] = true
		}
		for _, n := range prev.Images {
			taken[n] = true
		}
	}
	name := mainImageName(id, img.ext())
	for rev := 1; taken[name]; rev++ {
		name = revisedMainImageName(id, rev, img.ext())
	}
	if err := s.images.Put(ctx, id, name, img.Data); err != nil {
		return models.Member{}, fmt.Errorf("%w: store image: %v", ErrStorageFailure, err)
	}

	m := models.Member{
		ID:           id,
		FullName:     info.FullName,
		Role:         info.Role,
		RegisteredAt: s.now().UTC(),
		PhotoCount:   1,
		Images:       []string{name},
	}
	if exists {
		m.RegisteredAt = prev.RegisteredAt
	}
	members[id] = m
	delete(quarantined, id)

	if err := s.commit(members, quarantined); err != nil {
		var derr error
		if !exists && !wasQuarantined {
			derr = s.images.DeleteMember(ctx, id)
		} else {
			derr = s.images.Delete(ctx, id, name)
		}
		if derr != nil {
			slog.Warn("orphaned reference image after failed commit", "member", id, "image", name, "error", derr)
		}
		return models.Member{}, err
	}

	if exists {
		for _, old := range prev.Images {
			if old == name {
				continue
			}
			if err := s.images.Delete(ctx, id, old); err != nil {
				slog.Warn("delete replaced reference image", "member", id, "image", old, "error", err)
			}
		}
	}
	return m.Clone(), nil
}

// AppendImage adds a reference image to an enrolled member.
func (s *Store) AppendImage(ctx context.Context, id string, img Image) (models.Member, error) {
	if len(img.Data) == 0 {
		return models.Member{}, fmt.Errorf("%w: empty image", ErrInvalidInput)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	members, quarantined := s.cloneState()
	m, ok := members[id]
	if !ok {
		return models.Member{}, fmt.Errorf("%w: %s", ErrUnknownMember, id)
	}

	name := extraImageName(id, m.PhotoCount, img.ext())
	for n := m.PhotoCount + 1; slices.Contains(m.Images, name); n++ {
		name = extraImageName(id, n, img.ext())
	}
	if err := s.images.Put(ctx, id, name, img.Data); err != nil {
		return models.Member{}, fmt.Errorf("%w: store image: %v", ErrStorageFailure, err)
	}

	m = m.Clone()
	m.Images = append(m.Images, name)
	m.PhotoCount = len(m.Images)
	members[id] = m

	if err := s.commit(members, quarantined); err != nil {
		if derr := s.images.Delete(ctx, id, name); derr != nil {
			slog.Warn("orphaned reference image after failed commit", "member", id, "image", name, "error", derr)
		}
		return models.Member{}, err
	}
	return m.Clone(), nil
}

// Delete removes the member's metadata, then all of its images. Removing an
// absent member succeeds and still purges leftover images for that id.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if err := ValidateMemberID(id); err != nil {
		return false, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	members, quarantined := s.cloneState()
	_, known := members[id]
	_, wasQuarantined := quarantined[id]
	existed := known || wasQuarantined

	if existed {
		delete(members, id)
		delete(quarantined, id)
		if err := s.commit(members, quarantined); err != nil {
			return false, err
		}
	}

	if err := s.images.DeleteMember(ctx, id); err != nil {
		return existed, fmt.Errorf("%w: delete images: %v", ErrStorageFailure, err)
	}
	return existed, nil
}

// Get returns a copy of the member.
func (s *Store) Get(id string) (models.Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return models.Member{}, false
	}
	return m.Clone(), true
}

// List returns all valid members in registration order.
func (s *Store) List() []models.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Member, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.members[id].Clone())
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// Quarantined returns the ids of entries that failed validation on load.
func (s *Store) Quarantined() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.quarantined))
	for id := range s.quarantined {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) ReadImage(ctx context.Context, id, name string) ([]byte, error) {
	return s.images.Get(ctx, id, name)
}

// StoredImages lists the images physically present for a member.
func (s *Store) StoredImages(ctx context.Context, id string) ([]string, error) {
	return s.images.List(ctx, id)
}
