package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"mediassist.app/server/internal/store"
)

// placeholderPixelBase64 is a 1x1 transparent PNG substituted for non-image
// uploads. Real text extraction for PDFs and other documents is an external
// capability this service does not provide.
const placeholderPixelBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

// Analyzer turns a report image into a structured analysis.
type Analyzer interface {
	AnalyzeReport(ctx context.Context, imageBase64, mimeType string, profile store.UserProfile) (store.AIAnalysis, error)
}

// ReportAppender is the write half of the report store.
type ReportAppender interface {
	AppendReport(ctx context.Context, userID int64, rec store.ReportRecord) (store.ReportRecord, error)
}

// ReportService runs the upload-and-analyze workflow: analyze the image,
// embed the resulting summary, persist the record. The ordering matters: the
// stored embedding must correspond to the stored summary.
type ReportService struct {
	analyzer Analyzer
	embedder Embedder
	reports  ReportAppender
	sessions *SessionRegistry
}

func NewReportService(analyzer Analyzer, embedder Embedder, reports ReportAppender, sessions *SessionRegistry) *ReportService {
	return &ReportService{
		analyzer: analyzer,
		embedder: embedder,
		reports:  reports,
		sessions: sessions,
	}
}

// UploadAndAnalyze analyzes one uploaded report and appends the result to the
// user's history. Analyzer failures propagate to the caller with the session
// state unchanged; embedding failures degrade to storing the record without
// an embedding.
func (s *ReportService) UploadAndAnalyze(ctx context.Context, userID int64, fileName, mimeType, dataBase64 string, profile store.UserProfile) (store.ReportRecord, error) {
	if !strings.HasPrefix(mimeType, "image/") {
		log.Printf("Non-image upload %q (%s), substituting placeholder pixel", fileName, mimeType)
		dataBase64 = placeholderPixelBase64
		mimeType = "image/png"
	}

	session := s.sessions.ForUser(userID)
	session.Begin()
	analysis, err := s.analyzer.AnalyzeReport(ctx, dataBase64, mimeType, profile)
	if err != nil {
		session.Fail()
		return store.ReportRecord{}, fmt.Errorf("report analysis failed: %w", err)
	}
	session.Complete(analysis)

	embedding, err := s.embedder.GetEmbedding(ctx, analysis.Summary)
	if err != nil {
		log.Printf("Embedding failed for %q, storing report without one: %v", fileName, err)
		embedding = nil
	}

	rec := store.ReportRecord{
		FileName:       fileName,
		Summary:        analysis.Summary,
		AbnormalValues: analysis.AbnormalValues,
		RiskPrediction: analysis.RiskPrediction,
		Embedding:      embedding,
	}
	stored, err := s.reports.AppendReport(ctx, userID, rec)
	if err != nil {
		return store.ReportRecord{}, fmt.Errorf("failed to store analyzed report: %w", err)
	}
	return stored, nil
}
