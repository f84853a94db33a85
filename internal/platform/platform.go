// Package platform declares the contracts this daemon expects from the rest
// of the medical AI deployment: the web tier's auth, the questionnaire risk
// models, the MRI tumor model, the QA assistant, report export and history
// persistence. Implementations live in other services; only the chest X-ray
// engine is built here. Keep these surfaces small.
package platform

import (
	"context"
	"io"
	"time"
)

// TokenVerifier is the slice of the web tier's auth consulted when the
// daemon is deployed behind it.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// TabularScorer covers the questionnaire-driven risk models (heart disease,
// diabetes). Features are keyed by wire field name.
type TabularScorer interface {
	Score(ctx context.Context, features map[string]float64) (risk float64, findings []string, err error)
}

// TumorClassifier covers the MRI tumor model, the other image-based service.
type TumorClassifier interface {
	ClassifyScan(ctx context.Context, scan []byte) (label string, confidence float64, err error)
}

// QAService answers free-form medical questions about a finished prediction.
type QAService interface {
	Answer(ctx context.Context, question string, background map[string]string) (string, error)
}

// ReportFormat selects an export encoding.
type ReportFormat string

const (
	ReportPDF  ReportFormat = "pdf"
	ReportDocx ReportFormat = "docx"
	ReportXlsx ReportFormat = "xlsx"
)

// ReportExporter renders a persisted prediction into a downloadable report.
type ReportExporter interface {
	Export(ctx context.Context, rec Record, format ReportFormat) (io.ReadCloser, error)
}

// Record is one persisted prediction, as the history service stores it.
type Record struct {
	ID        string
	UserID    string
	Kind      string
	CreatedAt time.Time
	Payload   []byte
}

// HistoryQuery filters and pages a history search.
type HistoryQuery struct {
	Text    string
	Kind    string
	Since   time.Time
	Until   time.Time
	Page    int
	PerPage int
}

// HistoryStore persists and searches per-user prediction records.
type HistoryStore interface {
	Append(ctx context.Context, rec Record) error
	Search(ctx context.Context, userID string, q HistoryQuery) (records []Record, total int, err error)
}
