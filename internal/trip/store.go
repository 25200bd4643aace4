package trip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// MaxTrips is how many trips the history keeps; older ones are dropped.
const MaxTrips = 20

var ErrNotFound = errors.New("trip not found")

// Store keeps trip history newest first.
type Store interface {
	Save(ctx context.Context, t Trip) error
	List(ctx context.Context) ([]Summary, error)
	Get(ctx context.Context, id int64) (Trip, error)
	Delete(ctx context.Context, id int64) error
}

// Prepend puts t at the front of trips, replacing any trip with the same id,
// and trims the result to MaxTrips.
func Prepend(trips []Trip, t Trip) []Trip {
	out := make([]Trip, 0, len(trips)+1)
	out = append(out, t)
	for _, old := range trips {
		if old.ID != t.ID {
			out = append(out, old)
		}
	}
	if len(out) > MaxTrips {
		out = out[:MaxTrips]
	}
	return out
}

// FileStore keeps the whole history in one JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Save(_ context.Context, t Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trips, err := s.load()
	if err != nil {
		return err
	}
	return s.write(Prepend(trips, t))
}

func (s *FileStore) List(_ context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trips, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(trips))
	for _, t := range trips {
		out = append(out, t.Summary())
	}
	return out, nil
}

func (s *FileStore) Get(_ context.Context, id int64) (Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trips, err := s.load()
	if err != nil {
		return Trip{}, err
	}
	for _, t := range trips {
		if t.ID == id {
			return t, nil
		}
	}
	return Trip{}, ErrNotFound
}

func (s *FileStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trips, err := s.load()
	if err != nil {
		return err
	}
	kept := trips[:0]
	for _, t := range trips {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(trips) {
		return ErrNotFound
	}
	return s.write(kept)
}

func (s *FileStore) load() ([]Trip, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read trips: %w", err)
	}
	var trips []Trip
	if err := json.Unmarshal(b, &trips); err != nil {
		return nil, fmt.Errorf("decode trips %s: %w", s.path, err)
	}
	return trips, nil
}

// write replaces the file atomically.
func (s *FileStore) write(trips []Trip) error {
	if trips == nil {
		trips = []Trip{}
	}
	b, err := json.Marshal(trips)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".trips-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
