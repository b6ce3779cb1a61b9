package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maintwatch/pdm-engine/internal/models"
)

// MemoryAlertStore keeps alerts in memory. Used in tests and in
// single-node deployments without a database.
type MemoryAlertStore struct {
	mu     sync.RWMutex
	alerts []models.Alert
}

// NewMemoryAlertStore creates an empty in-memory alert store.
func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{}
}

// Append implements AlertStore.
func (s *MemoryAlertStore) Append(_ context.Context, alert models.Alert) error {
	if alert.ID == "" {
		return fmt.Errorf("append alert: missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

// Acknowledge implements AlertStore.
func (s *MemoryAlertStore) Acknowledge(_ context.Context, alertID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == alertID {
			if s.alerts[i].Acknowledged {
				return nil
			}
			s.alerts[i].Acknowledged = true
			s.alerts[i].AcknowledgedAt = at
			return nil
		}
	}
	return fmt.Errorf("acknowledge alert: %s not found", alertID)
}

// List implements AlertStore. deviceID may be empty to list all devices;
// results are newest-first, capped at limit when limit > 0.
func (s *MemoryAlertStore) List(_ context.Context, deviceID string, limit int) ([]models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if deviceID == "" || a.DeviceID == deviceID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
