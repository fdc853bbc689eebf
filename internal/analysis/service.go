package analysis

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/AngelCh415/salesinsight/internal/config"
	"github.com/AngelCh415/salesinsight/internal/metrics"
	"github.com/AngelCh415/salesinsight/internal/models"
	"github.com/AngelCh415/salesinsight/internal/store"
)

// ErrRunInProgress is returned when a run is requested while another is still going.
var ErrRunInProgress = errors.New("analysis run already in progress")

// Service runs analyses over the store's events with the holder's current config and keeps the
// results in the store. Runs are serialized.
type Service struct {
	cfg *config.AnalysisHolder
	st  *store.MemoryStore
	log *slog.Logger
	rec *metrics.Recorder

	running sync.Mutex
	mu      sync.Mutex
	stock   map[string]int
}

func NewService(cfg *config.AnalysisHolder, st *store.MemoryStore, log *slog.Logger, rec *metrics.Recorder) *Service {
	return &Service{cfg: cfg, st: st, log: log, rec: rec}
}

// Run analyses everything stored. A nil stock map reuses the levels from the previous call.
func (s *Service) Run(ctx context.Context, analysisDate time.Time, stock map[string]int) (*models.RunResult, error) {
	if !s.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.running.Unlock()

	s.mu.Lock()
	if stock != nil {
		s.stock = maps.Clone(stock)
	}
	current := s.stock
	s.mu.Unlock()

	r, err := NewRunner(s.cfg.Get(), s.log, s.rec)
	if err != nil {
		return nil, err
	}
	res, err := r.Run(ctx, Input{Events: s.st.Events(), AnalysisDate: analysisDate, CurrentStock: current})
	if err != nil {
		return nil, err
	}
	s.st.SaveRun(res)
	return res, nil
}
