package cache

import "github.com/parkops/gatebridge/internal/models"

// memoryStore keeps records in a slice, preserving enqueue order. Volatile
// by design: a process crash loses its contents, which is acceptable because
// the primary system-of-record is external.
type memoryStore struct {
	records []models.CacheRecord
}

// NewMemoryStore returns the default, in-memory backend.
func NewMemoryStore() Store {
	return &memoryStore{}
}

func (s *memoryStore) Append(rec models.CacheRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func (s *memoryStore) Remove(ticketID string) error {
	for i := range s.records {
		if s.records[i].Event.TicketID == ticketID {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memoryStore) Has(ticketID string) (bool, error) {
	for i := range s.records {
		if s.records[i].Event.TicketID == ticketID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) List() ([]models.CacheRecord, error) {
	out := make([]models.CacheRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *memoryStore) Bump(ticketID string) error {
	for i := range s.records {
		if s.records[i].Event.TicketID == ticketID {
			s.records[i].Attempts++
			return nil
		}
	}
	return nil
}

func (s *memoryStore) Len() (int, error) {
	return len(s.records), nil
}

func (s *memoryStore) Close() error { return nil }
