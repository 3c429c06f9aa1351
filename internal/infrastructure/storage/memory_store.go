package storage

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	payoutapp "github.com/marketplace/payouts/internal/application/payout"
)

var _ payoutapp.ReportStorage = (*MemoryReportStore)(nil)

// StoredObject is an export kept by MemoryReportStore
type StoredObject struct {
	Data        []byte
	ContentType string
	UploadedAt  time.Time
}

// MemoryReportStore keeps exports in process memory.
// Used when object storage is disabled and in tests.
type MemoryReportStore struct {
	// BaseURL prefixes generated download links
	BaseURL string

	mu      sync.RWMutex
	objects map[string]StoredObject
}

// NewMemoryReportStore creates a new MemoryReportStore
func NewMemoryReportStore() *MemoryReportStore {
	return &MemoryReportStore{
		BaseURL: "http://localhost/exports",
		objects: make(map[string]StoredObject),
	}
}

// Upload stores a copy of data under key
func (s *MemoryReportStore) Upload(_ context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return errors.New("storage key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = StoredObject{
		Data:        append([]byte(nil), data...),
		ContentType: contentType,
		UploadedAt:  time.Now(),
	}
	return nil
}

// GenerateDownloadURL returns a link to an uploaded object
func (s *MemoryReportStore) GenerateDownloadURL(_ context.Context, key string, expiresIn time.Duration) (string, time.Time, error) {
	if key == "" {
		return "", time.Time{}, errors.New("storage key is required")
	}
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", time.Time{}, errors.New("object not found: " + key)
	}

	expiresAt := time.Now().Add(expiresIn)
	link := s.BaseURL + "/" + key + "?expires=" + url.QueryEscape(expiresAt.UTC().Format(time.RFC3339))
	return link, expiresAt, nil
}

// Get returns the object stored under key
func (s *MemoryReportStore) Get(key string) (StoredObject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj, ok
}
