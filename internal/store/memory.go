package store

import (
	"sync"
	"time"

	"github.com/AngelCh415/salesinsight/internal/models"
)

// MemoryStore keeps the session's sales events, their daily rollup and finished runs.
// Nothing outlives the process.
type MemoryStore struct {
	mu     sync.RWMutex
	events []models.SalesEvent
	agg    map[models.DailyAggKey]*models.DailyAgg
	orders map[models.DailyAggKey]map[string]struct{}
	seen   map[string]struct{} // idempotencia por-record
	runs   map[string]*models.RunResult
	latest string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agg:    make(map[models.DailyAggKey]*models.DailyAgg),
		orders: make(map[models.DailyAggKey]map[string]struct{}),
		seen:   make(map[string]struct{}),
		runs:   make(map[string]*models.RunResult),
	}
}

// AddEvent stores e unless key was seen before. It reports whether e was stored.
func (s *MemoryStore) AddEvent(key string, e models.SalesEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.upsert(e)
	return true
}

// UpsertEvent stores e without any duplicate check. Bulk loads of a source already known to be
// unique use it.
func (s *MemoryStore) UpsertEvent(e models.SalesEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsert(e)
}

func (s *MemoryStore) upsert(e models.SalesEvent) {
	k := models.DailyAggKey{Date: day(e.Date), ProductID: e.ProductID, Category: e.Category}
	s.events = append(s.events, e)
	agg, ok := s.agg[k]
	if !ok {
		agg = &models.DailyAgg{Key: k}
		s.agg[k] = agg
		s.orders[k] = map[string]struct{}{}
	}
	agg.Quantity += max0(e.Quantity)
	agg.Revenue += maxf(e.Revenue().InexactFloat64())
	agg.Lines++
	if e.OrderID == "" {
		agg.Orders++
	} else if _, dup := s.orders[k][e.OrderID]; !dup {
		s.orders[k][e.OrderID] = struct{}{}
		agg.Orders++
	}
}

// Events returns a copy of every stored event in arrival order.
func (s *MemoryStore) Events() []models.SalesEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.SalesEvent(nil), s.events...)
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *MemoryStore) All() []models.DailyAgg {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DailyAgg, 0, len(s.agg))
	for _, v := range s.agg {
		out = append(out, *v)
	}
	return out
}

// Query returns aggregates with from <= date <= to. A zero bound is open.
func (s *MemoryStore) Query(from, to time.Time, f func(models.DailyAgg) bool) []models.DailyAgg {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.DailyAgg
	for _, v := range s.agg {
		if !from.IsZero() && v.Key.Date.Before(from) {
			continue
		}
		if !to.IsZero() && v.Key.Date.After(to) {
			continue
		}
		if f == nil || f(*v) {
			out = append(out, *v)
		}
	}
	return out
}

func (s *MemoryStore) SaveRun(r *models.RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	s.latest = r.ID
}

func (s *MemoryStore) Run(id string) (*models.RunResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	return r, ok
}

func (s *MemoryStore) LatestRun() (*models.RunResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[s.latest]
	return r, ok
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
func max0(i int) int {
	if i < 0 {
		return 0
	}
	return i
}
func maxf(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}
