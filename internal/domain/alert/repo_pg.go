package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/asha/records/internal/platform/apperr"
	"github.com/asha/records/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type alertRepoPG struct{ pool *pgxpool.Pool }

func NewAlertRepoPG(pool *pgxpool.Pool) Repository {
	return &alertRepoPG{pool: pool}
}

func (r *alertRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *alertRepoPG) Create(ctx context.Context, a *Alert) error {
	id := uuid.New()
	a.ID = id.String()
	a.Version = 1
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO emergency_alert (id, type, priority, status, district, block, patient_id, raised_by, created_at, version, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, a.Type, a.Priority, a.Status, a.District, a.Block, nullable(a.PatientID), a.RaisedBy, a.CreatedAt, a.Version, doc)
	if err != nil {
		return apperr.Storage("create alert", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanAlert(row pgx.Row) (*Alert, error) {
	var (
		id      uuid.UUID
		version int64
		doc     []byte
	)
	if err := row.Scan(&id, &version, &doc); err != nil {
		return nil, err
	}
	a := &Alert{}
	if err := json.Unmarshal(doc, a); err != nil {
		return nil, fmt.Errorf("decode alert document: %w", err)
	}
	a.ID = id.String()
	a.Version = version
	return a, nil
}

func (r *alertRepoPG) GetByID(ctx context.Context, id string) (*Alert, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, &apperr.NotFoundError{Resource: "alert", Key: id}
	}
	a, err := scanAlert(r.conn(ctx).QueryRow(ctx, `SELECT id, version, doc FROM emergency_alert WHERE id = $1`, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &apperr.NotFoundError{Resource: "alert", Key: id}
	}
	if err != nil {
		return nil, apperr.Storage("get alert", err)
	}
	return a, nil
}

func (r *alertRepoPG) Update(ctx context.Context, a *Alert) error {
	uid, err := uuid.Parse(a.ID)
	if err != nil {
		return &apperr.NotFoundError{Resource: "alert", Key: a.ID}
	}
	expected := a.Version
	a.Version++
	doc, err := json.Marshal(a)
	if err != nil {
		a.Version = expected
		return fmt.Errorf("encode alert: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE emergency_alert SET status = $2, version = $3, doc = $4
		WHERE id = $1 AND version = $5`,
		uid, a.Status, a.Version, doc, expected)
	if err != nil {
		a.Version = expected
		return apperr.Storage("update alert", err)
	}
	if tag.RowsAffected() == 0 {
		a.Version = expected
		if _, err := r.GetByID(ctx, a.ID); err != nil {
			return err
		}
		return &apperr.ConflictError{Field: "version"}
	}
	return nil
}

func (r *alertRepoPG) List(ctx context.Context, q Query) ([]*Alert, int, error) {
	var (
		clauses []string
		args    []interface{}
	)
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("status", q.Status)
	add("district", q.District)
	add("block", q.Block)
	add("raised_by", q.RaisedBy)

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM emergency_alert`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Storage("list alerts", err)
	}

	query := `SELECT id, version, doc FROM emergency_alert` + where + ` ORDER BY created_at DESC, id`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Storage("list alerts", err)
	}
	defer rows.Close()

	out := []*Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, apperr.Storage("list alerts", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Storage("list alerts", err)
	}
	return out, total, nil
}
