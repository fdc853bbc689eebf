package rfm

import (
	"fmt"
	"sort"

	"github.com/AngelCh415/salesinsight/internal/config"
	"github.com/AngelCh415/salesinsight/internal/models"
)

// Triple is a (recency, frequency, monetary) score combination.
type Triple struct{ R, F, M int }

// SegmentTable is a total mapping from every reachable score triple to a segment.
type SegmentTable struct {
	maxR, maxF, maxM int
	cells            []models.Segment
}

// CompileTable expands ordered first-match rules into an explicit table over
// [1..maxR]x[1..maxF]x[1..maxM]. Every triple must end up with a label.
func CompileTable(rules []config.SegmentRule, fallback string, maxR, maxF, maxM int) (*SegmentTable, error) {
	if maxR < 1 || maxF < 1 || maxM < 1 {
		return nil, models.ConfigErr("rfm.segments", "score ranges must be >= 1")
	}
	t := &SegmentTable{maxR: maxR, maxF: maxF, maxM: maxM, cells: make([]models.Segment, maxR*maxF*maxM)}

	var missing []Triple
	for r := 1; r <= maxR; r++ {
		for f := 1; f <= maxF; f++ {
			for m := 1; m <= maxM; m++ {
				label := match(rules, r, f, m)
				if label == "" {
					label = fallback
				}
				if label == "" {
					missing = append(missing, Triple{r, f, m})
					continue
				}
				t.cells[t.index(r, f, m)] = models.Segment(label)
			}
		}
	}
	if len(missing) > 0 {
		return nil, models.ConfigErr("rfm.segments", "table is not total: %d triples unmapped, first %v", len(missing), missing[0])
	}
	return t, nil
}

func match(rules []config.SegmentRule, r, f, m int) string {
	for _, rule := range rules {
		if within(r, rule.RMin, rule.RMax) && within(f, rule.FMin, rule.FMax) && within(m, rule.MMin, rule.MMax) {
			return rule.Label
		}
	}
	return ""
}

func within(v, lo, hi int) bool {
	if lo > 0 && v < lo {
		return false
	}
	if hi > 0 && v > hi {
		return false
	}
	return true
}

func (t *SegmentTable) index(r, f, m int) int {
	return ((r-1)*t.maxF+(f-1))*t.maxM + (m - 1)
}

// Lookup returns the segment for a triple. Out-of-range triples are a programming error.
func (t *SegmentTable) Lookup(tr Triple) models.Segment {
	if tr.R < 1 || tr.R > t.maxR || tr.F < 1 || tr.F > t.maxF || tr.M < 1 || tr.M > t.maxM {
		panic(fmt.Sprintf("rfm: triple %v outside table %dx%dx%d", tr, t.maxR, t.maxF, t.maxM))
	}
	return t.cells[t.index(tr.R, tr.F, tr.M)]
}

// Labels lists the distinct segments in the table, sorted.
func (t *SegmentTable) Labels() []models.Segment {
	seen := map[models.Segment]struct{}{}
	for _, c := range t.cells {
		seen[c] = struct{}{}
	}
	out := make([]models.Segment, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
