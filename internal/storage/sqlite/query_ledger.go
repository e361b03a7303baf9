package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/wintrouble/backend/internal/feedback"
	"github.com/wintrouble/backend/internal/storage/models"
)

var ErrUnknownQuestion = errors.New("unknown question")

type queryRow struct {
	ID         int64   `db:"id"`
	QuestionID string  `db:"question_id"`
	UserID     string  `db:"user_id"`
	ChannelID  string  `db:"channel_id"`
	Question   string  `db:"question"`
	Answer     string  `db:"answer"`
	Confidence float64 `db:"confidence"`
	Status     string  `db:"status"`
	ThumbsUp   int     `db:"thumbs_up"`
	ThumbsDown int     `db:"thumbs_down"`
	Flagged    bool    `db:"flagged"`
	Reacted    bool    `db:"reacted"`
	CreatedAt  int64   `db:"created_at"`
}

func (r queryRow) record() models.QueryRecord {
	return models.QueryRecord{
		ID:         r.ID,
		QuestionID: r.QuestionID,
		UserID:     r.UserID,
		ChannelID:  r.ChannelID,
		Question:   r.Question,
		Answer:     r.Answer,
		Confidence: r.Confidence,
		Status:     r.Status,
		ThumbsUp:   r.ThumbsUp,
		ThumbsDown: r.ThumbsDown,
		Flagged:    r.Flagged,
		Reacted:    r.Reacted,
		CreatedAt:  fromUnix(r.CreatedAt),
	}
}

const queryColumns = `id, question_id, user_id, channel_id, question, answer, confidence, status,
	thumbs_up, thumbs_down, flagged, reacted, created_at`

type QueryLedger struct {
	db        *sqlx.DB
	log       *zap.Logger
	threshold float64
	now       func() time.Time
}

// QueryLedger returns the query log view of the database. Answers with a
// confidence below threshold are flagged when appended.
func (c *Client) QueryLedger(threshold float64) *QueryLedger {
	return &QueryLedger{db: c.db, log: c.log, threshold: threshold, now: time.Now}
}

// Append inserts a new record for the entry and returns it as stored.
func (l *QueryLedger) Append(ctx context.Context, entry models.QueryEntry) (*models.QueryRecord, error) {
	if entry.QuestionID == "" {
		return nil, errors.New("question id is required")
	}

	state := feedback.Initial(entry.Confidence, l.threshold, entry.ForceFlag)
	createdAt := toUnix(l.now())

	query := `
		INSERT INTO query_log (question_id, user_id, channel_id, question, answer, confidence, status,
			thumbs_up, thumbs_down, flagged, reacted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, 0, ?)
	`

	res, err := l.db.ExecContext(ctx, query,
		entry.QuestionID,
		entry.UserID,
		entry.ChannelID,
		entry.Question,
		entry.Answer,
		entry.Confidence,
		models.QueryStatusAnswered,
		state.Flagged,
		createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert query record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read query row id: %w", err)
	}

	l.log.Info("Query recorded",
		zap.Int64("id", id),
		zap.String("question_id", entry.QuestionID),
		zap.Float64("confidence", entry.Confidence),
		zap.Bool("flagged", state.Flagged),
	)

	rec := queryRow{
		ID:         id,
		QuestionID: entry.QuestionID,
		UserID:     entry.UserID,
		ChannelID:  entry.ChannelID,
		Question:   entry.Question,
		Answer:     entry.Answer,
		Confidence: entry.Confidence,
		Status:     models.QueryStatusAnswered,
		Flagged:    state.Flagged,
		CreatedAt:  createdAt,
	}.record()
	return &rec, nil
}

// ApplyReaction adjusts the counters of the newest record for questionID and
// recomputes its flag, all inside one immediate transaction.
func (l *QueryLedger) ApplyReaction(ctx context.Context, questionID string, deltaUp, deltaDown int) (*models.QueryRecord, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row queryRow
	err = tx.GetContext(ctx, &row, `SELECT `+queryColumns+` FROM query_log
		WHERE question_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, questionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
		}
		return nil, fmt.Errorf("failed to read query record: %w", err)
	}

	next := feedback.Escalation{
		ThumbsUp:   row.ThumbsUp,
		ThumbsDown: row.ThumbsDown,
		Flagged:    row.Flagged,
		Reacted:    row.Reacted,
	}.Apply(deltaUp, deltaDown)

	_, err = tx.ExecContext(ctx, `UPDATE query_log
		SET thumbs_up = ?, thumbs_down = ?, flagged = ?, reacted = ?
		WHERE id = ?`,
		next.ThumbsUp, next.ThumbsDown, next.Flagged, next.Reacted, row.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update query record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reaction: %w", err)
	}

	row.ThumbsUp = next.ThumbsUp
	row.ThumbsDown = next.ThumbsDown
	row.Flagged = next.Flagged
	row.Reacted = next.Reacted

	rec := row.record()
	return &rec, nil
}

// Get returns the newest record for questionID.
func (l *QueryLedger) Get(ctx context.Context, questionID string) (*models.QueryRecord, error) {
	var row queryRow
	err := l.db.GetContext(ctx, &row, `SELECT `+queryColumns+` FROM query_log
		WHERE question_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, questionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
		}
		return nil, fmt.Errorf("failed to get query record: %w", err)
	}

	rec := row.record()
	return &rec, nil
}

// Recent returns the newest records, restricted to userID when it is set.
func (l *QueryLedger) Recent(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	var (
		rows []queryRow
		err  error
	)
	if userID == "" {
		err = l.db.SelectContext(ctx, &rows, `SELECT `+queryColumns+` FROM query_log
			ORDER BY created_at DESC, id DESC
			LIMIT ?`, limit)
	} else {
		err = l.db.SelectContext(ctx, &rows, `SELECT `+queryColumns+` FROM query_log
			WHERE user_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?`, userID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}

	return toQueryRecords(rows), nil
}

// Escalations lists flagged records, newest first.
func (l *QueryLedger) Escalations(ctx context.Context, limit int) ([]models.QueryRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []queryRow
	err := l.db.SelectContext(ctx, &rows, `SELECT `+queryColumns+` FROM query_log
		WHERE flagged = 1
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}

	return toQueryRecords(rows), nil
}

// Stats summarizes the log relative to now. Day, week (starting Monday) and
// month boundaries are taken in UTC.
func (l *QueryLedger) Stats(ctx context.Context, now time.Time) (*models.QueryStats, error) {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := dayStart.AddDate(0, 0, -((int(dayStart.Weekday()) + 6) % 7))
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var out struct {
		Today      int `db:"today"`
		ThisWeek   int `db:"this_week"`
		ThisMonth  int `db:"this_month"`
		Total      int `db:"total"`
		AIAnswered int `db:"ai_answered"`
		Escalated  int `db:"escalated"`
		ThumbsUp   int `db:"thumbs_up"`
		ThumbsDown int `db:"thumbs_down"`
	}

	query := `
		SELECT
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0) AS today,
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0) AS this_week,
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0) AS this_month,
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN flagged = 0 THEN 1 ELSE 0 END), 0) AS ai_answered,
			COALESCE(SUM(CASE WHEN flagged = 1 THEN 1 ELSE 0 END), 0) AS escalated,
			COALESCE(SUM(thumbs_up), 0) AS thumbs_up,
			COALESCE(SUM(thumbs_down), 0) AS thumbs_down
		FROM query_log
	`

	err := l.db.GetContext(ctx, &out, query, toUnix(dayStart), toUnix(weekStart), toUnix(monthStart))
	if err != nil {
		return nil, fmt.Errorf("failed to compute query stats: %w", err)
	}

	stats := models.QueryStats(out)
	return &stats, nil
}

// DailyBreakdown returns per-day (UTC) totals for records created in [from, to).
func (l *QueryLedger) DailyBreakdown(ctx context.Context, from, to time.Time) ([]models.DailyQueryStats, error) {
	query := `
		SELECT
			date(created_at / 1000000000, 'unixepoch') AS day,
			COUNT(*) AS total,
			SUM(CASE WHEN flagged = 0 THEN 1 ELSE 0 END) AS ai_answered,
			SUM(CASE WHEN flagged = 1 THEN 1 ELSE 0 END) AS escalated,
			SUM(thumbs_up) AS thumbs_up,
			SUM(thumbs_down) AS thumbs_down
		FROM query_log
		WHERE created_at >= ? AND created_at < ?
		GROUP BY day
		ORDER BY day
	`

	var days []models.DailyQueryStats
	if err := l.db.SelectContext(ctx, &days, query, toUnix(from), toUnix(to)); err != nil {
		return nil, fmt.Errorf("failed to compute daily breakdown: %w", err)
	}
	return days, nil
}

func toQueryRecords(rows []queryRow) []models.QueryRecord {
	records := make([]models.QueryRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records
}
