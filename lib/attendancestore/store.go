// Package attendancestore records per-subject attendance snapshots so
// the dashboard can show how a student's percentage moves over the
// term. At most one snapshot per subject per day is kept.
package attendancestore

import (
	"context"
	"database/sql"
	"time"

	"attendease-backend/lib/attendancestore/db"
)

type Store struct {
	db  *sql.DB
	qry *db.Queries
}

// Schema is the sqlite schema the store expects, callers apply it via
// sqliteutil.OpenDB.
var Schema = db.Schema

func NewStore(database *sql.DB) Store {
	return Store{
		db:  database,
		qry: db.New(database),
	}
}

type SubjectSnapshot struct {
	Subject    string
	Attended   int
	Total      int
	Percentage float64
}

type PushRequest struct {
	Time     time.Time
	Student  string
	Subjects []SubjectSnapshot
}

func (s Store) Push(ctx context.Context, req PushRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	txqry := s.qry.WithTx(tx)

	// same-day snapshots are replaced rather than accumulated
	startOfDay := time.Date(req.Time.Year(), req.Time.Month(), req.Time.Day(), 0, 0, 0, 0, req.Time.Location())
	startOfNextDay := startOfDay.AddDate(0, 0, 1)
	err = txqry.DeleteSnapshotsIn(ctx, db.DeleteSnapshotsInParams{
		After:   startOfDay.Unix(),
		Before:  startOfNextDay.Unix(),
		Student: req.Student,
	})
	if err != nil {
		return err
	}

	for _, subject := range req.Subjects {
		err := txqry.CreateStudentSubject(ctx, db.CreateStudentSubjectParams{
			Student: req.Student,
			Subject: subject.Subject,
		})
		if err != nil {
			return err
		}
		id, err := txqry.GetStudentSubjectId(ctx, db.GetStudentSubjectIdParams{
			Student: req.Student,
			Subject: subject.Subject,
		})
		if err != nil {
			return err
		}
		err = txqry.CreateSnapshot(ctx, db.CreateSnapshotParams{
			StudentSubjectID: id,
			Time:             req.Time.Unix(),
			Attended:         int64(subject.Attended),
			Total:            int64(subject.Total),
			Percentage:       subject.Percentage,
		})
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

type Snapshot struct {
	Time       time.Time
	Attended   int
	Total      int
	Percentage float64
}

type SubjectSeries struct {
	Subject   string
	Snapshots []Snapshot
}

func (s Store) Pull(ctx context.Context, student string) ([]SubjectSeries, error) {
	rows, err := s.qry.GetSnapshots(ctx, student)
	if err != nil {
		return nil, err
	}

	var series []SubjectSeries
	for _, r := range rows {
		snapshot := Snapshot{
			Time:       time.Unix(r.Time, 0),
			Attended:   int(r.Attended),
			Total:      int(r.Total),
			Percentage: r.Percentage,
		}
		if len(series) > 0 && series[len(series)-1].Subject == r.Subject {
			last := &series[len(series)-1]
			last.Snapshots = append(last.Snapshots, snapshot)
			continue
		}
		series = append(series, SubjectSeries{
			Subject:   r.Subject,
			Snapshots: []Snapshot{snapshot},
		})
	}
	return series, nil
}
