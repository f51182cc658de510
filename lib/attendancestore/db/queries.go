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

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const createStudentSubject = `
INSERT INTO student_subject (student, subject)
VALUES (?, ?)
ON CONFLICT (student, subject) DO NOTHING
`

type CreateStudentSubjectParams struct {
	Student string
	Subject string
}

func (q *Queries) CreateStudentSubject(ctx context.Context, arg CreateStudentSubjectParams) error {
	_, err := q.db.ExecContext(ctx, createStudentSubject, arg.Student, arg.Subject)
	return err
}

const getStudentSubjectId = `
SELECT id FROM student_subject WHERE student = ? AND subject = ?
`

type GetStudentSubjectIdParams struct {
	Student string
	Subject string
}

func (q *Queries) GetStudentSubjectId(ctx context.Context, arg GetStudentSubjectIdParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, getStudentSubjectId, arg.Student, arg.Subject)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const createSnapshot = `
INSERT INTO attendance_snapshot (student_subject_id, time, attended, total, percentage)
VALUES (?, ?, ?, ?, ?)
`

type CreateSnapshotParams struct {
	StudentSubjectID int64
	Time             int64
	Attended         int64
	Total            int64
	Percentage       float64
}

func (q *Queries) CreateSnapshot(ctx context.Context, arg CreateSnapshotParams) error {
	_, err := q.db.ExecContext(ctx, createSnapshot,
		arg.StudentSubjectID, arg.Time, arg.Attended, arg.Total, arg.Percentage)
	return err
}

const deleteSnapshotsIn = `
DELETE FROM attendance_snapshot
WHERE time >= ? AND time < ?
AND student_subject_id IN (
    SELECT id FROM student_subject WHERE student = ?
)
`

type DeleteSnapshotsInParams struct {
	After   int64
	Before  int64
	Student string
}

func (q *Queries) DeleteSnapshotsIn(ctx context.Context, arg DeleteSnapshotsInParams) error {
	_, err := q.db.ExecContext(ctx, deleteSnapshotsIn, arg.After, arg.Before, arg.Student)
	return err
}

const getSnapshots = `
SELECT ss.subject, snap.time, snap.attended, snap.total, snap.percentage
FROM attendance_snapshot snap
JOIN student_subject ss ON ss.id = snap.student_subject_id
WHERE ss.student = ?
ORDER BY ss.subject, snap.time
`

type GetSnapshotsRow struct {
	Subject    string
	Time       int64
	Attended   int64
	Total      int64
	Percentage float64
}

func (q *Queries) GetSnapshots(ctx context.Context, student string) ([]GetSnapshotsRow, error) {
	rows, err := q.db.QueryContext(ctx, getSnapshots, student)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []GetSnapshotsRow
	for rows.Next() {
		var r GetSnapshotsRow
		err := rows.Scan(&r.Subject, &r.Time, &r.Attended, &r.Total, &r.Percentage)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}
