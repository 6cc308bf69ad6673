package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

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

// The full document lives in doc; the other columns are projections kept
// for indexing and uniqueness.
type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) Repository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const pgUniqueViolation = "23505"

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func mapWriteErr(op string, p *Patient, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case constraintHealthID:
			return &apperr.ConflictError{Field: "healthId", Value: p.HealthID}
		case constraintAadhaar:
			return &apperr.ConflictError{Field: "aadhaarNumber"}
		}
	}
	return apperr.Storage(op, err)
}

func scanDoc(row pgx.Row) (*Patient, error) {
	var (
		id      uuid.UUID
		version int64
		doc     []byte
	)
	if err := row.Scan(&id, &version, &doc); err != nil {
		return nil, err
	}
	p := &Patient{}
	if err := json.Unmarshal(doc, p); err != nil {
		return nil, fmt.Errorf("decode patient document: %w", err)
	}
	p.ID = id.String()
	p.Version = version
	return p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	normalize(p)
	p.Version = 1
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode patient document: %w", err)
	}

	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO patient (
			id, health_id, aadhaar_number, full_name, phone, gender, date_of_birth,
			status, district, block, village, risk_level, registered_by,
			registration_date, last_modified, version, doc
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, 1, $16
		)`,
		p.ID, p.HealthID, nullable(p.AadhaarNumber), p.FullName, p.Phone, p.Gender, p.DateOfBirth.Time,
		p.Status, p.Address.District, p.Address.Block, p.Address.Village, p.RiskAssessment.RiskLevel, p.RegisteredBy,
		p.RegistrationDate, p.LastModified, doc,
	)
	if err != nil {
		return mapWriteErr("create patient", p, err)
	}
	return nil
}

func (r *patientRepoPG) getOne(ctx context.Context, key, where string, arg interface{}) (*Patient, error) {
	p, err := scanDoc(r.conn(ctx).QueryRow(ctx, `SELECT id, version, doc FROM patient WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &apperr.NotFoundError{Resource: "patient", Key: key}
	}
	if err != nil {
		return nil, apperr.Storage("get patient", err)
	}
	return p, nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id string) (*Patient, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, &apperr.NotFoundError{Resource: "patient", Key: id}
	}
	return r.getOne(ctx, id, `id = $1`, uid)
}

func (r *patientRepoPG) GetByHealthID(ctx context.Context, healthID string) (*Patient, error) {
	return r.getOne(ctx, healthID, `health_id = $1 AND status = 'active' AND deleted_at IS NULL`, healthID)
}

func (r *patientRepoPG) GetByAadhaar(ctx context.Context, aadhaar string) (*Patient, error) {
	return r.getOne(ctx, "with that aadhaar", `aadhaar_number = $1 AND status = 'active' AND deleted_at IS NULL`, aadhaar)
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	normalize(p)
	expected := p.Version
	p.Version = expected + 1
	doc, err := json.Marshal(p)
	if err != nil {
		p.Version = expected
		return fmt.Errorf("encode patient document: %w", err)
	}

	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET
			health_id = $2, aadhaar_number = $3, full_name = $4, phone = $5,
			gender = $6, date_of_birth = $7, status = $8,
			district = $9, block = $10, village = $11, risk_level = $12,
			last_modified = $13, doc = $14, version = version + 1
		WHERE id = $1 AND version = $15 AND deleted_at IS NULL`,
		p.ID, p.HealthID, nullable(p.AadhaarNumber), p.FullName, p.Phone,
		p.Gender, p.DateOfBirth.Time, p.Status,
		p.Address.District, p.Address.Block, p.Address.Village, p.RiskAssessment.RiskLevel,
		p.LastModified, doc, expected,
	)
	if err != nil {
		p.Version = expected
		return mapWriteErr("update patient", p, err)
	}
	if tag.RowsAffected() == 0 {
		p.Version = expected
		return r.missOrStale(ctx, p.ID)
	}
	return nil
}

// missOrStale explains a zero-row update.
func (r *patientRepoPG) missOrStale(ctx context.Context, id string) error {
	var deleted bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT deleted_at IS NOT NULL FROM patient WHERE id = $1`, id).Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && deleted) {
		return &apperr.NotFoundError{Resource: "patient", Key: id}
	}
	if err != nil {
		return apperr.Storage("update patient", err)
	}
	return &apperr.ConflictError{Field: "version"}
}

// appendItem pushes item onto the document list under key in one statement,
// so concurrent appends never drop entries.
func (r *patientRepoPG) appendItem(ctx context.Context, id, key string, item interface{}, by string, at time.Time) (*Patient, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, &apperr.NotFoundError{Resource: "patient", Key: id}
	}
	elem, err := json.Marshal([]interface{}{item})
	if err != nil {
		return nil, fmt.Errorf("encode %s entry: %w", key, err)
	}

	p, err := scanDoc(r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET
			doc = jsonb_set(
					doc, ARRAY[$2::text],
					CASE WHEN jsonb_typeof(doc->$2::text) = 'array' THEN doc->$2::text ELSE '[]'::jsonb END || $3::jsonb
				) || jsonb_build_object('lastModified', $4::timestamptz, 'modifiedBy', $5::text, 'version', version + 1),
			last_modified = $4,
			version = version + 1
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING id, version, doc`,
		uid, key, string(elem), at, by,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &apperr.NotFoundError{Resource: "patient", Key: id}
	}
	if err != nil {
		return nil, apperr.Storage("append "+key, err)
	}
	return p, nil
}

func (r *patientRepoPG) AppendVisit(ctx context.Context, id string, v Visit, by string, at time.Time) (*Patient, error) {
	return r.appendItem(ctx, id, "visits", v, by, at)
}

func (r *patientRepoPG) AppendImmunization(ctx context.Context, id string, im Immunization, by string, at time.Time) (*Patient, error) {
	return r.appendItem(ctx, id, "immunizationRecords", im, by, at)
}

func (r *patientRepoPG) SoftDelete(ctx context.Context, id, by string, at time.Time) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return &apperr.NotFoundError{Resource: "patient", Key: id}
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET
			status = 'inactive', deleted_at = $2, last_modified = $2, version = version + 1,
			doc = doc || jsonb_build_object(
				'status', 'inactive',
				'deletedAt', $2::timestamptz, 'deletedBy', $3::text,
				'lastModified', $2::timestamptz, 'modifiedBy', $3::text,
				'version', version + 1)
		WHERE id = $1 AND deleted_at IS NULL`,
		uid, at, by,
	)
	if err != nil {
		return apperr.Storage("delete patient", err)
	}
	if tag.RowsAffected() == 0 {
		return &apperr.NotFoundError{Resource: "patient", Key: id}
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// whereBuilder accumulates AND-ed predicates with positional args.
type whereBuilder struct {
	clauses []string
	args    []interface{}
}

func (w *whereBuilder) add(clause string, args ...interface{}) {
	refs := make([]interface{}, len(args))
	for i, a := range args {
		w.args = append(w.args, a)
		refs[i] = len(w.args)
	}
	w.clauses = append(w.clauses, fmt.Sprintf(clause, refs...))
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func filterWhere(w *whereBuilder, f Filter) {
	if f.District != "" {
		w.add("district = $%d", f.District)
	}
	if f.Block != "" {
		w.add("block = $%d", f.Block)
	}
	if f.Village != "" {
		w.add("village = $%d", f.Village)
	}
}

func (r *patientRepoPG) Search(ctx context.Context, q Query) ([]*Patient, int, error) {
	w := &whereBuilder{}
	w.add("deleted_at IS NULL")
	status := q.Status
	if status == "" {
		status = StatusActive
	}
	if status != "all" {
		w.add("status = $%d", status)
	}
	filterWhere(w, q.Filter)
	if q.RegisteredBy != "" {
		w.add("registered_by = $%d", q.RegisteredBy)
	}
	if len(q.RiskLevels) > 0 {
		w.add("risk_level = ANY($%d)", q.RiskLevels)
	}
	if q.Text != "" {
		w.add("(full_name ILIKE $%[1]d OR health_id ILIKE $%[1]d OR phone ILIKE $%[1]d OR aadhaar_number ILIKE $%[1]d)",
			"%"+likeEscaper.Replace(q.Text)+"%")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, apperr.Storage("search patients", err)
	}

	query := `SELECT id, version, doc FROM patient` + w.sql() + ` ORDER BY registration_date DESC, id`
	args := w.args
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, q.Limit)
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, len(args)+1)
		args = append(args, q.Offset)
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Storage("search patients", err)
	}
	defer rows.Close()

	out := []*Patient{}
	for rows.Next() {
		p, err := scanDoc(rows)
		if err != nil {
			return nil, 0, apperr.Storage("search patients", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Storage("search patients", err)
	}
	return out, total, nil
}

func (r *patientRepoPG) Scan(ctx context.Context, f Filter, fn func(*Patient) error) error {
	w := &whereBuilder{}
	w.add("deleted_at IS NULL")
	w.add("status = 'active'")
	filterWhere(w, f)

	rows, err := r.conn(ctx).Query(ctx, `SELECT id, version, doc FROM patient`+w.sql(), w.args...)
	if err != nil {
		return apperr.Storage("scan patients", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanDoc(rows)
		if err != nil {
			return apperr.Storage("scan patients", err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return apperr.Storage("scan patients", err)
	}
	return nil
}

func (r *patientRepoPG) CountAll(ctx context.Context, f Filter) (int, error) {
	w := &whereBuilder{}
	w.add("deleted_at IS NULL")
	filterWhere(w, f)
	var n int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`+w.sql(), w.args...).Scan(&n); err != nil {
		return 0, apperr.Storage("count patients", err)
	}
	return n, nil
}
