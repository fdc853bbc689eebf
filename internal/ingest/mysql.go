package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/AngelCh415/salesinsight/internal/models"
)

var tableName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// OpenMySQL opens a pool for dsn, which may be a driver DSN or a mysql:// / mariadb:// URL.
func OpenMySQL(dsn string) (*sql.DB, error) {
	d, err := toMySQLDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", d)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func toMySQLDSN(dsn string) (string, error) {
	if !strings.HasPrefix(dsn, "mariadb://") && !strings.HasPrefix(dsn, "mysql://") {
		return dsn, nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	c := mysql.NewConfig()
	if u.User != nil {
		c.User = u.User.Username()
		c.Passwd, _ = u.User.Password()
	}
	c.Net = "tcp"
	c.Addr = u.Host
	c.DBName = strings.TrimPrefix(u.Path, "/")
	if c.User == "" || c.Addr == "" || c.DBName == "" {
		return "", fmt.Errorf("incomplete dsn (user/host/db)")
	}
	c.ParseTime = true
	c.Loc = time.UTC
	c.InterpolateParams = true
	return c.FormatDSN(), nil
}

// LoadMySQL reads sales lines from table with from <= sale_date < to. Zero bounds are open.
// The table needs the columns sale_date, product_id, category, quantity, amount, customer_id
// and order_id.
func LoadMySQL(ctx context.Context, db *sql.DB, table string, from, to time.Time) ([]models.SalesEvent, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	const layout = "2006-01-02 15:04:05"
	var (
		where []string
		args  []any
	)
	if !from.IsZero() {
		where = append(where, "sale_date >= ?")
		args = append(args, from.UTC().Format(layout))
	}
	if !to.IsZero() {
		where = append(where, "sale_date < ?")
		args = append(args, to.UTC().Format(layout))
	}
	q := fmt.Sprintf(`
		SELECT sale_date, product_id, COALESCE(category, ''), COALESCE(quantity, 0), COALESCE(amount, 0),
		       COALESCE(customer_id, ''), COALESCE(order_id, '')
		FROM %s`, table)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY sale_date"

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SalesEvent
	for rows.Next() {
		var (
			e      models.SalesEvent
			amount decimal.Decimal
		)
		if err := rows.Scan(&e.Date, &e.ProductID, &e.Category, &e.Quantity, &amount, &e.CustomerID, &e.OrderID); err != nil {
			return nil, err
		}
		e.Amount = amount
		out = append(out, e)
	}
	return out, rows.Err()
}
