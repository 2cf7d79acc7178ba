package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"mediassist.app/server/internal/store"
)

const (
	// NumRelevantReports bounds how many historical reports feed one answer.
	NumRelevantReports = 3

	// NoPriorReportsContext is the sentinel returned when a user has no
	// retrievable history. Answer prompts include it verbatim.
	NoPriorReportsContext = "No prior relevant reports found."

	contextSeparator = "\n---\n"
)

// Embedder converts free text into a fixed-length vector. A nil/empty result
// means "no embedding available" and is not an error for callers.
type Embedder interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

// ReportReader is the retrieval half of the report store.
type ReportReader interface {
	ListRecentReports(ctx context.Context, userID int64, limit int) ([]store.ReportRecord, error)
	FindNearestReports(ctx context.Context, userID int64, queryVector []float32, k int, metric store.DistanceMetric) ([]store.ReportRecord, error)
}

// ContextRetriever builds the textual history block that grounds an answer
// in the user's past reports.
type ContextRetriever struct {
	embedder Embedder
	reports  ReportReader
}

func NewContextRetriever(embedder Embedder, reports ReportReader) *ContextRetriever {
	return &ContextRetriever{
		embedder: embedder,
		reports:  reports,
	}
}

// BuildContext never fails outward: embedding failures degrade to recency
// ordering, retrieval failures degrade to the sentinel. The chat experience
// must always proceed, even with zero history or a broken index.
func (r *ContextRetriever) BuildContext(ctx context.Context, userID int64, query string) string {
	records := r.retrieve(ctx, userID, query)
	if len(records) == 0 {
		return NoPriorReportsContext
	}

	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("Summary of %s (%s): %s",
			rec.FileName, rec.CreatedAt.Format("2006-01-02"), rec.Summary))
	}
	return strings.Join(lines, contextSeparator)
}

// retrieve prefers nearest-neighbor ordering and falls back to most-recent
// ordering whenever the embedding or the vector lookup is unavailable.
func (r *ContextRetriever) retrieve(ctx context.Context, userID int64, query string) []store.ReportRecord {
	queryVector, err := r.embedder.GetEmbedding(ctx, query)
	if err != nil {
		log.Printf("Query embedding failed, falling back to recent reports: %v", err)
		return r.listRecent(ctx, userID)
	}
	if len(queryVector) == 0 {
		return r.listRecent(ctx, userID)
	}

	records, err := r.reports.FindNearestReports(ctx, userID, queryVector, NumRelevantReports, store.DistanceCosine)
	if err != nil {
		if !errors.Is(err, store.ErrIndexUnavailable) {
			log.Printf("Unexpected vector search failure: %v", err)
		}
		log.Printf("Vector search unavailable, falling back to recent reports: %v", err)
		return r.listRecent(ctx, userID)
	}
	return records
}

func (r *ContextRetriever) listRecent(ctx context.Context, userID int64) []store.ReportRecord {
	records, err := r.reports.ListRecentReports(ctx, userID, NumRelevantReports)
	if err != nil {
		log.Printf("Recent report listing failed, proceeding without history: %v", err)
		return nil
	}
	return records
}
