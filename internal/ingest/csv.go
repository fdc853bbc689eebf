package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AngelCh415/salesinsight/internal/models"
)

// Accepted date layouts, day-first before month-first.
var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"01-02-2006",
	"2006/01/02",
	"02/01/2006",
	"01/02/2006",
	"02.01.2006",
	"2006.01.02",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

var headerAliases = map[string]string{
	"date": "date", "tarih": "date", "order_date": "date", "sale_date": "date", "fecha": "date",
	"product_id": "product_id", "product": "product_id", "sku": "product_id", "urun_adi": "product_id", "producto": "product_id",
	"category": "category", "kategori": "category", "categoria": "category",
	"quantity": "quantity", "qty": "quantity", "miktar": "quantity", "cantidad": "quantity",
	"amount": "amount", "unit_price": "amount", "price": "amount", "precio": "amount",
	"total": "total", "line_total": "total", "satis_tutari": "total",
	"customer_id": "customer_id", "customer": "customer_id", "musteri_id": "customer_id", "cliente_id": "customer_id",
	"order_id": "order_id", "siparis_id": "order_id", "pedido_id": "order_id",
}

// ReadCSV parses a header-driven sales CSV. Rows that cannot be typed are returned as rejects
// indexed by data row (header excluded); a malformed file or missing required column is an error.
// When only a line total is given the unit amount is total/quantity.
func ReadCSV(r io.Reader) ([]models.SalesEvent, []*models.DataQualityError, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("csv: empty input")
		}
		return nil, nil, fmt.Errorf("csv header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		h = strings.ReplaceAll(h, " ", "_")
		if canon, ok := headerAliases[h]; ok {
			if _, dup := col[canon]; !dup {
				col[canon] = i
			}
		}
	}
	for _, req := range []string{"date", "product_id", "quantity"} {
		if _, ok := col[req]; !ok {
			return nil, nil, fmt.Errorf("csv: missing column %q", req)
		}
	}
	_, hasAmount := col["amount"]
	_, hasTotal := col["total"]
	if !hasAmount && !hasTotal {
		return nil, nil, errors.New(`csv: missing column "amount" (or "total")`)
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("csv: %w", err)
	}
	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	dates := make([]string, len(rows))
	for i, row := range rows {
		dates[i] = field(row, "date")
	}
	layout := detectLayout(dates)

	out := make([]models.SalesEvent, 0, len(rows))
	var rejects []*models.DataQualityError
	for i, row := range rows {
		product := field(row, "product_id")
		reject := func(f, reason string) {
			rejects = append(rejects, &models.DataQualityError{Index: i, EntityID: product, Field: f, Reason: reason})
		}

		d, err := parseDateWith(layout, dates[i])
		if err != nil {
			reject("date", fmt.Sprintf("unparseable %q", dates[i]))
			continue
		}
		qty, err := parseQuantity(field(row, "quantity"))
		if err != nil {
			reject("quantity", err.Error())
			continue
		}
		var amount decimal.Decimal
		if hasAmount && field(row, "amount") != "" {
			amount, err = parseDecimal(field(row, "amount"))
		} else {
			var total decimal.Decimal
			total, err = parseDecimal(field(row, "total"))
			switch {
			case err != nil:
			case qty == 0 && !total.IsZero():
				err = errors.New("line total without quantity")
			case qty > 0:
				amount = total.Div(decimal.NewFromInt(int64(qty)))
			}
		}
		if err != nil {
			reject("amount", err.Error())
			continue
		}

		out = append(out, models.SalesEvent{
			Date:       d,
			ProductID:  product,
			Category:   field(row, "category"),
			Quantity:   qty,
			Amount:     amount,
			CustomerID: field(row, "customer_id"),
			OrderID:    field(row, "order_id"),
		})
	}
	return out, rejects, nil
}

// detectLayout returns the first layout that parses every non-empty value, or "" when none does.
func detectLayout(values []string) string {
	for _, l := range dateLayouts {
		ok, seen := true, false
		for _, v := range values {
			if v == "" {
				continue
			}
			seen = true
			if _, err := time.Parse(l, v); err != nil {
				ok = false
				break
			}
		}
		if ok && seen {
			return l
		}
	}
	return ""
}

func parseDateWith(layout, v string) (time.Time, error) {
	if layout != "" {
		if t, err := time.Parse(layout, v); err == nil {
			return dayUTC(t), nil
		}
	}
	return parseDate(v)
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, v); err == nil {
			return dayUTC(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unknown date format %q", v)
}

func parseQuantity(v string) (int, error) {
	if v == "" {
		return 0, errors.New("missing")
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("not an integer: %q", v)
	}
	return int(f), nil
}

// parseDecimal accepts a comma as decimal separator when no dot is present.
func parseDecimal(v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, errors.New("missing")
	}
	if !strings.Contains(v, ".") {
		v = strings.Replace(v, ",", ".", 1)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number: %q", v)
	}
	return d, nil
}
