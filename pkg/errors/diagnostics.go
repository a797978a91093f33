package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Diagnostics is the log-only view of a failure. None of it reaches API clients.
type Diagnostics struct {
	Message string
	Code    Code
	Chain   []string

	SQLState   string
	Constraint string
	Table      string
	Column     string
	DBMessage  string
	// Guards names the marketplace record the violated constraint protects.
	Guards string
}

// constraintGuards maps unique indexes from the migrations, and the sqlite
// "table.column" form used in tests, to the record they keep unique.
var constraintGuards = map[string]string{
	"idx_users_email":                   "user email",
	"users.email":                       "user email",
	"idx_projects_slug":                 "project slug",
	"projects.slug":                     "project slug",
	"idx_purchases_checkout_project":    "purchase line",
	"purchases.checkout_id":             "purchase line",
	"idx_subscriptions_user_id":         "subscription per user",
	"subscriptions.user_id":             "subscription per user",
	"idx_webhook_events_provider_event": "webhook delivery",
	"webhook_events.provider":           "webhook delivery",
}

const sqliteUnique = "UNIQUE constraint failed: "

// Diagnose walks err's wrap chain and extracts driver detail from postgres
// (pgx or lib/pq) and sqlite errors.
func Diagnose(err error) Diagnostics {
	if err == nil {
		return Diagnostics{}
	}
	d := Diagnostics{Message: err.Error()}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		d.SQLState = pgxErr.Code
		d.Constraint = pgxErr.ConstraintName
		d.Table = pgxErr.TableName
		d.Column = pgxErr.ColumnName
		d.DBMessage = pgxErr.Message
	case errors.As(err, &pqErr):
		d.SQLState = string(pqErr.Code)
		d.Constraint = pqErr.Constraint
		d.Table = pqErr.Table
		d.Column = pqErr.Column
		d.DBMessage = pqErr.Message
	default:
		if idx := strings.Index(d.Message, sqliteUnique); idx >= 0 {
			// sqlite reports "table.col[, table.col]"; the first column names the index
			first := strings.SplitN(d.Message[idx+len(sqliteUnique):], ",", 2)[0]
			d.Constraint = strings.TrimSpace(first)
			if table, column, ok := strings.Cut(d.Constraint, "."); ok {
				d.Table, d.Column = table, column
			}
			d.DBMessage = strings.TrimSpace(d.Message[idx:])
		}
	}
	d.Guards = constraintGuards[d.Constraint]
	return d
}

// LogFields flattens the diagnostics into logger fields, omitting empty driver detail.
func (d Diagnostics) LogFields() map[string]any {
	fields := map[string]any{
		"error_code":  d.Code,
		"error_chain": d.Chain,
	}
	optional := map[string]string{
		"sql_state":     d.SQLState,
		"db_constraint": d.Constraint,
		"db_table":      d.Table,
		"db_column":     d.Column,
		"db_message":    d.DBMessage,
		"guards":        d.Guards,
	}
	for key, value := range optional {
		if value != "" {
			fields[key] = value
		}
	}
	return fields
}
