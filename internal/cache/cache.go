package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bitetrack/backend/internal/domain"
)

const (
	DefaultTTL       = 24 * time.Hour
	DefaultKeyPrefix = "bitetrack:import-report:"
)

var errNoBatchID = errors.New("import report has no batch id")

// ImportReportCache keeps finished CSV import reports addressable by batch id.
// Retention is decided by the cache, not by the caller.
type ImportReportCache interface {
	Get(ctx context.Context, batchID string) (*domain.ImportReport, bool, error)
	Put(ctx context.Context, report *domain.ImportReport) error
	Delete(ctx context.Context, batchID string) error
}

// Policy is the retention shared by every backend. Zero values fall back to
// DefaultTTL and DefaultKeyPrefix.
type Policy struct {
	TTL       time.Duration
	KeyPrefix string
}

func (p Policy) withDefaults() Policy {
	if p.TTL <= 0 {
		p.TTL = DefaultTTL
	}
	if strings.TrimSpace(p.KeyPrefix) == "" {
		p.KeyPrefix = DefaultKeyPrefix
	}
	return p
}

func (p Policy) key(batchID string) string {
	return p.KeyPrefix + batchID
}

func batchIDOf(report *domain.ImportReport) (string, error) {
	id := strings.TrimSpace(report.Summary.ImportBatchID)
	if id == "" {
		return "", errNoBatchID
	}
	return id, nil
}

// encodeReport and decodeReport fix the stored form so a report written by one
// backend reads back the same from another.
func encodeReport(report *domain.ImportReport) ([]byte, error) {
	payload, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode import report: %w", err)
	}
	return payload, nil
}

func decodeReport(payload []byte) (*domain.ImportReport, error) {
	var report domain.ImportReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("decode import report: %w", err)
	}
	return &report, nil
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryImportReportCache is the single-process fallback used when Redis is
// not configured. It stores the encoded form so callers never share slices
// with a cached report.
type MemoryImportReportCache struct {
	policy  Policy
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryImportReportCache(policy Policy) *MemoryImportReportCache {
	return &MemoryImportReportCache{
		policy:  policy.withDefaults(),
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryImportReportCache) Get(_ context.Context, batchID string) (*domain.ImportReport, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.policy.key(batchID)
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	report, err := decodeReport(entry.payload)
	if err != nil {
		return nil, false, err
	}
	return report, true, nil
}

func (c *MemoryImportReportCache) Put(_ context.Context, report *domain.ImportReport) error {
	if report == nil {
		return nil
	}
	batchID, err := batchIDOf(report)
	if err != nil {
		return err
	}
	payload, err := encodeReport(report)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	c.entries[c.policy.key(batchID)] = memoryEntry{payload: payload, expiresAt: now.Add(c.policy.TTL)}
	return nil
}

func (c *MemoryImportReportCache) Delete(_ context.Context, batchID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, c.policy.key(batchID))
	return nil
}
