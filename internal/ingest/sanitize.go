package ingest

import (
	"strings"
	"time"

	"github.com/AngelCh415/salesinsight/internal/models"
)

// Sanitize drops records that fail numeric or temporal sanity checks. Schema is assumed valid;
// this only catches negative values, missing dates or products, and sales after analysisDate.
// Rejects carry the record's index in events.
func Sanitize(events []models.SalesEvent, analysisDate time.Time) ([]models.SalesEvent, []*models.DataQualityError) {
	limit := dayUTC(analysisDate)
	out := make([]models.SalesEvent, 0, len(events))
	var rejects []*models.DataQualityError
	reject := func(i int, e models.SalesEvent, field, reason string) {
		rejects = append(rejects, &models.DataQualityError{Index: i, EntityID: e.ProductID, Field: field, Reason: reason})
	}

	for i, e := range events {
		e.ProductID = strings.TrimSpace(e.ProductID)
		switch {
		case e.ProductID == "":
			reject(i, e, "product_id", "missing")
		case e.Date.IsZero():
			reject(i, e, "date", "missing")
		case !analysisDate.IsZero() && dayUTC(e.Date).After(limit):
			reject(i, e, "date", "after analysis date "+limit.Format("2006-01-02"))
		case e.Quantity < 0:
			reject(i, e, "quantity", "negative")
		case e.Amount.IsNegative():
			reject(i, e, "amount", "negative")
		default:
			e.Date = dayUTC(e.Date)
			e.Category = strings.TrimSpace(e.Category)
			e.CustomerID = strings.TrimSpace(e.CustomerID)
			e.OrderID = strings.TrimSpace(e.OrderID)
			out = append(out, e)
		}
	}
	return out, rejects
}
