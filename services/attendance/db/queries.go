package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

const getReport = `
SELECT report, source, last_updated FROM report_cache WHERE student = ?
`

type GetReportRow struct {
	Report      []byte
	Source      string
	LastUpdated int64
}

func (q *Queries) GetReport(ctx context.Context, student string) (GetReportRow, error) {
	row := q.db.QueryRowContext(ctx, getReport, student)
	var r GetReportRow
	err := row.Scan(&r.Report, &r.Source, &r.LastUpdated)
	return r, err
}

const upsertReport = `
INSERT INTO report_cache (student, report, source, last_updated)
VALUES (?, ?, ?, unixepoch())
ON CONFLICT (student) DO UPDATE
SET report = excluded.report,
    source = excluded.source,
    last_updated = excluded.last_updated
`

type UpsertReportParams struct {
	Student string
	Report  []byte
	Source  string
}

func (q *Queries) UpsertReport(ctx context.Context, arg UpsertReportParams) error {
	_, err := q.db.ExecContext(ctx, upsertReport, arg.Student, arg.Report, arg.Source)
	return err
}
