package ingest

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AngelCh415/salesinsight/internal/config"
	"github.com/AngelCh415/salesinsight/internal/models"
	"github.com/AngelCh415/salesinsight/internal/store"
)

var (
	ErrSourceNotConfigured = errors.New("sales source not configured")
	ErrSinkNotConfigured   = errors.New("sink not configured")
)

// Loader moves sales records between the remote sales API, the store and the export sink.
type Loader struct {
	c   HTTPClient
	st  *store.MemoryStore
	log *slog.Logger
	cfg config.Config
}

func NewLoader(c HTTPClient, st *store.MemoryStore, log *slog.Logger, cfg config.Config) *Loader {
	return &Loader{c: c, st: st, log: log, cfg: cfg}
}

type remoteRecord struct {
	ID         string          `json:"id"`
	Date       string          `json:"date"`
	ProductID  string          `json:"product_id"`
	Category   string          `json:"category"`
	Quantity   int             `json:"quantity"`
	Amount     decimal.Decimal `json:"amount"`
	CustomerID string          `json:"customer_id"`
	OrderID    string          `json:"order_id"`
}

// FetchRemote pulls the sales API and upserts every record not seen before. Records older than
// since are skipped. It returns how many records were added.
func (l *Loader) FetchRemote(ctx context.Context, since *time.Time) (int, error) {
	if l.cfg.SalesURL == "" {
		return 0, ErrSourceNotConfigured
	}
	var resp []remoteRecord
	if err := GetJSONWithRetry(ctx, l.c, l.cfg.SalesURL, &resp); err != nil {
		return 0, err
	}

	added, skipped := 0, 0
	occ := map[string]int{}
	for _, r := range resp {
		e, err := r.event()
		if err != nil {
			skipped++
			continue
		}
		key := "sale|" + r.ID
		if r.ID == "" {
			key = nextKey(occ, e)
		}
		if since != nil && e.Date.Before(dayUTC(*since)) {
			continue
		}
		if l.st.AddEvent(key, e) { // idempotencia
			added++
		}
	}

	l.log.Info("ingest complete",
		slog.Int("received", len(resp)),
		slog.Int("added", added),
		slog.Int("bad_date", skipped),
		slog.Int("agg_count", len(l.st.All())),
	)
	return added, nil
}

func (r remoteRecord) event() (models.SalesEvent, error) {
	d, err := parseDate(strings.TrimSpace(r.Date))
	if err != nil {
		return models.SalesEvent{}, err
	}
	return models.SalesEvent{
		Date:       d,
		ProductID:  strings.TrimSpace(r.ProductID),
		Category:   coalesce(r.Category, ""),
		Quantity:   r.Quantity,
		Amount:     r.Amount,
		CustomerID: strings.TrimSpace(r.CustomerID),
		OrderID:    strings.TrimSpace(r.OrderID),
	}, nil
}

// DecodeEvents reads a JSON array of sales records. Records with an unreadable date come back as
// rejects indexed by array position.
func DecodeEvents(r io.Reader) ([]models.SalesEvent, []*models.DataQualityError, error) {
	var recs []remoteRecord
	if err := json.NewDecoder(r).Decode(&recs); err != nil {
		return nil, nil, err
	}
	out := make([]models.SalesEvent, 0, len(recs))
	var rejects []*models.DataQualityError
	for i, rec := range recs {
		e, err := rec.event()
		if err != nil {
			rejects = append(rejects, &models.DataQualityError{Index: i, EntityID: rec.ProductID, Field: "date", Reason: err.Error()})
			continue
		}
		out = append(out, e)
	}
	return out, rejects, nil
}

// EventKeys returns an idempotency key per event. Identical events in one batch get distinct keys
// by occurrence, so a batch keeps its own repeated lines while a replay of the batch adds nothing.
func EventKeys(events []models.SalesEvent) []string {
	occ := make(map[string]int, len(events))
	keys := make([]string, len(events))
	for i, e := range events {
		keys[i] = nextKey(occ, e)
	}
	return keys
}

func nextKey(occ map[string]int, e models.SalesEvent) string {
	base := strings.Join([]string{
		"sale",
		dayUTC(e.Date).Format("2006-01-02"),
		e.ProductID,
		e.Category,
		e.OrderID,
		e.CustomerID,
		strconv.Itoa(e.Quantity),
		e.Amount.String(),
	}, "|")
	n := occ[base]
	occ[base] = n + 1
	return base + "#" + strconv.Itoa(n)
}

// ExportRun posts the run to the sink. The body is signed with HMAC-SHA256 in X-Signature.
func (l *Loader) ExportRun(ctx context.Context, run *models.RunResult) error {
	if l.cfg.SinkURL == "" || l.cfg.SinkSecret == "" {
		return ErrSinkNotConfigured
	}
	b, err := json.Marshal(run)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.SinkURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", Sign(l.cfg.SinkSecret, b))
	req.Header.Set("X-Run-ID", run.ID)
	resp, err := l.c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	l.log.Info("run exported", slog.String("run_id", run.ID), slog.Int("bytes", len(b)))
	return nil
}

// Sign is the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func coalesce(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}
func dayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
