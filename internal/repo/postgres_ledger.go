package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/LeventeLantos/wa-ledger/internal/model"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	recordColumns = "id::text, type, message_id, contact, business_phone_id, message, status, created_at, updated_at"
)

// DB is the subset of *pgxpool.Pool used by the repository.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PostgresLedgerRepo struct {
	db    DB
	table string
}

// NewPostgresLedgerRepo targets table, which is quoted as an identifier.
func NewPostgresLedgerRepo(db DB, table string) *PostgresLedgerRepo {
	if table == "" {
		table = "messages"
	}
	return &PostgresLedgerRepo{db: db, table: pgx.Identifier{table}.Sanitize()}
}

func prepare(rec *model.LedgerRecord) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if len(rec.Message) == 0 {
		rec.Message = json.RawMessage("null")
	}
}

func (r *PostgresLedgerRepo) Insert(ctx context.Context, rec *model.LedgerRecord) error {
	prepare(rec)

	_, err := r.db.Exec(ctx, `
		INSERT INTO `+r.table+` (id, type, message_id, contact, business_phone_id, message, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, string(rec.Type), rec.MessageID, rec.Contact, rec.BusinessPhoneID,
		rec.Message, string(rec.Status), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert ledger record %s: %w", rec.MessageID, err)
	}
	return nil
}

func (r *PostgresLedgerRepo) InsertIfAbsent(ctx context.Context, rec *model.LedgerRecord) (bool, error) {
	prepare(rec)

	tag, err := r.db.Exec(ctx, `
		INSERT INTO `+r.table+` (id, type, message_id, contact, business_phone_id, message, status, created_at, updated_at)
		SELECT $1::uuid, $2, $3, $4, $5, $6::jsonb, $7, $8::timestamptz, $9::timestamptz
		WHERE NOT EXISTS (SELECT 1 FROM `+r.table+` WHERE message_id = $3)
	`, rec.ID, string(rec.Type), rec.MessageID, rec.Contact, rec.BusinessPhoneID,
		rec.Message, string(rec.Status), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("insert ledger record %s: %w", rec.MessageID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresLedgerRepo) UpdateStatus(ctx context.Context, p model.StatusPatch) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE `+r.table+`
		SET status = $1, updated_at = $2
		WHERE message_id = $3
	`, string(p.Status), p.UpdatedAt.UTC(), p.MessageID)
	if err != nil {
		return 0, fmt.Errorf("update status of %s: %w", p.MessageID, err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresLedgerRepo) FindByMessageID(ctx context.Context, messageID string) ([]model.LedgerRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+recordColumns+`
		FROM `+r.table+`
		WHERE message_id = $1
		ORDER BY created_at ASC
	`, messageID)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (r *PostgresLedgerRepo) List(ctx context.Context, f model.ListFilter) ([]model.LedgerRecord, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var (
		where []string
		args  []any
	)
	add := func(col string, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("type", string(f.Type))
	add("contact", f.Contact)
	add("business_phone_id", f.BusinessPhoneID)
	add("status", string(f.Status))

	q := "SELECT " + recordColumns + " FROM " + r.table
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]model.LedgerRecord, error) {
	defer rows.Close()

	var out []model.LedgerRecord
	for rows.Next() {
		var (
			rec       model.LedgerRecord
			id        string
			typ       string
			status    string
			message   []byte
			updatedAt *time.Time
		)
		if err := rows.Scan(
			&id,
			&typ,
			&rec.MessageID,
			&rec.Contact,
			&rec.BusinessPhoneID,
			&message,
			&status,
			&rec.CreatedAt,
			&updatedAt,
		); err != nil {
			return nil, err
		}

		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("scan ledger record id %q: %w", id, err)
		}
		rec.ID = parsed
		rec.Type = model.Direction(typ)
		rec.Status = model.Status(status)
		rec.Message = json.RawMessage(message)
		rec.UpdatedAt = updatedAt

		out = append(out, rec)
	}
	return out, rows.Err()
}
