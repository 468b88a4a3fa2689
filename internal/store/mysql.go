// Package store provides the MySQL and Redis adapters behind the pipeline's
// storage interfaces.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"customerintel/pkg/types"
)

const datetimeLayout = "2006-01-02 15:04:05"

// OpenMySQL opens a pooled connection. DSNs in mysql:// or mariadb:// URL
// form are rewritten to the driver's native format.
func OpenMySQL(dsn string) (*sql.DB, error) {
	native, err := toMySQLDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", native)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func toMySQLDSN(dsn string) (string, error) {
	if !strings.HasPrefix(dsn, "mysql://") && !strings.HasPrefix(dsn, "mariadb://") {
		return dsn, nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	user := ""
	pass := ""
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}
	db := strings.TrimPrefix(u.Path, "/")
	if user == "" || u.Host == "" || db == "" {
		return "", fmt.Errorf("dsn missing user, host or database")
	}
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&loc=UTC&interpolateParams=true",
		user, pass, u.Host, db), nil
}

// MySQLStore reads order and interaction history for the pipeline.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// OrdersByOrganization returns all orders placed in [from, to), line items
// included. A zero from means no lower bound.
func (s *MySQLStore) OrdersByOrganization(ctx context.Context, orgID string, from, to time.Time) ([]types.Order, error) {
	q := `
		SELECT o.order_id, o.customer_id, o.total, o.currency, o.ordered_at
		FROM orders o
		WHERE o.organization_id = ? AND o.ordered_at < ?`
	args := []any{orgID, to.UTC().Format(datetimeLayout)}
	if !from.IsZero() {
		q += ` AND o.ordered_at >= ?`
		args = append(args, from.UTC().Format(datetimeLayout))
	}
	q += ` ORDER BY o.ordered_at`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer rows.Close()

	var orders []types.Order
	index := make(map[string]int)
	for rows.Next() {
		var o types.Order
		if err := rows.Scan(&o.OrderID, &o.CustomerID, &o.Total, &o.Currency, &o.OrderedAt); err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		index[o.OrderID] = len(orders)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}

	itemQ := `
		SELECT li.order_id, li.product_id, li.category, li.quantity, li.unit_price, li.discount
		FROM order_line_items li
		JOIN orders o ON o.order_id = li.order_id
		WHERE o.organization_id = ? AND o.ordered_at < ?`
	itemArgs := []any{orgID, to.UTC().Format(datetimeLayout)}
	if !from.IsZero() {
		itemQ += ` AND o.ordered_at >= ?`
		itemArgs = append(itemArgs, from.UTC().Format(datetimeLayout))
	}

	itemRows, err := s.db.QueryContext(ctx, itemQ, itemArgs...)
	if err != nil {
		return nil, fmt.Errorf("querying line items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var orderID string
		var li types.LineItem
		var category sql.NullString
		var discount sql.NullFloat64
		if err := itemRows.Scan(&orderID, &li.ProductID, &category, &li.Quantity, &li.UnitPrice, &discount); err != nil {
			return nil, fmt.Errorf("scanning line item: %w", err)
		}
		li.Category = category.String
		li.Discount = discount.Float64
		if i, ok := index[orderID]; ok {
			orders[i].Items = append(orders[i].Items, li)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// EventsByOrganization returns all interaction events in [from, to).
func (s *MySQLStore) EventsByOrganization(ctx context.Context, orgID string, from, to time.Time) ([]types.InteractionEvent, error) {
	q := `
		SELECT e.customer_id, e.event_type, e.occurred_at, COALESCE(e.revenue, 0)
		FROM interaction_events e
		WHERE e.organization_id = ? AND e.occurred_at < ?`
	args := []any{orgID, to.UTC().Format(datetimeLayout)}
	if !from.IsZero() {
		q += ` AND e.occurred_at >= ?`
		args = append(args, from.UTC().Format(datetimeLayout))
	}
	q += ` ORDER BY e.occurred_at`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []types.InteractionEvent
	for rows.Next() {
		var ev types.InteractionEvent
		if err := rows.Scan(&ev.CustomerID, &ev.EventType, &ev.OccurredAt, &ev.Revenue); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
