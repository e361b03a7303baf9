package models

import "time"

const (
	IngestionSuccess = "success"
	IngestionFailed  = "failed"

	QueryStatusAnswered = "answered"
)

type QueryRecord struct {
	ID         int64     `json:"id"`
	QuestionID string    `json:"question_id"`
	UserID     string    `json:"user_id"`
	ChannelID  string    `json:"channel_id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Confidence float64   `json:"confidence"`
	Status     string    `json:"status"`
	ThumbsUp   int       `json:"thumbs_up"`
	ThumbsDown int       `json:"thumbs_down"`
	Flagged    bool      `json:"flagged"`
	Reacted    bool      `json:"reacted"`
	CreatedAt  time.Time `json:"timestamp"`
}

// QueryEntry is the input for a new query ledger row.
type QueryEntry struct {
	QuestionID string
	UserID     string
	ChannelID  string
	Question   string
	Answer     string
	Confidence float64
	// ForceFlag escalates the record regardless of confidence.
	ForceFlag bool
}

type IngestionRecord struct {
	ID           int64      `json:"id"`
	Source       string     `json:"source"`
	DocumentID   string     `json:"document_id"`
	DocumentType string     `json:"document_type"`
	DocumentName string     `json:"document_name"`
	Status       string     `json:"status"`
	LastModified *time.Time `json:"last_modified,omitempty"`
	ChunkCount   int        `json:"chunk_count"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IngestionAttempt is the input for a new ingestion ledger row.
type IngestionAttempt struct {
	Source       string
	DocumentID   string
	DocumentType string
	DocumentName string
	Status       string
	LastModified *time.Time
	ChunkCount   int
	Error        string
}

type IngestionStatus struct {
	Status       string
	LastModified *time.Time
}

// DocumentDescriptor identifies a candidate document produced by an enumerator
// or an upload batch.
type DocumentDescriptor struct {
	Source       string     `json:"source"`
	DocumentID   string     `json:"document_id"`
	DocumentType string     `json:"document_type"`
	DocumentName string     `json:"document_name"`
	LastModified *time.Time `json:"last_modified,omitempty"`
	Path         string     `json:"-"`
}

type QueryStats struct {
	Today      int `json:"today"`
	ThisWeek   int `json:"this_week"`
	ThisMonth  int `json:"this_month"`
	Total      int `json:"total"`
	AIAnswered int `json:"ai_answered"`
	Escalated  int `json:"escalated"`
	ThumbsUp   int `json:"thumbs_up"`
	ThumbsDown int `json:"thumbs_down"`
}

type DailyQueryStats struct {
	Day        string `db:"day" json:"day"`
	Total      int    `db:"total" json:"total"`
	AIAnswered int    `db:"ai_answered" json:"ai_answered"`
	Escalated  int    `db:"escalated" json:"escalated"`
	ThumbsUp   int    `db:"thumbs_up" json:"thumbs_up"`
	ThumbsDown int    `db:"thumbs_down" json:"thumbs_down"`
}
