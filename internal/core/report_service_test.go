package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"mediassist.app/server/internal/store"
)

func validAnalysis() store.AIAnalysis {
	return store.AIAnalysis{
		Summary:        "Everything looks normal.",
		AbnormalValues: []store.AbnormalValue{},
		RiskPrediction: store.RiskAssessment{
			Level:       store.RiskLow,
			Explanation: "No abnormal findings.",
			NextSteps:   []string{"Keep up your routine checkups"},
		},
	}
}

func TestUploadAndAnalyzeStoresEmbeddedRecord(t *testing.T) {
	ctx := context.Background()
	sessions := NewSessionRegistry()

	var embeddedText string
	analyzer := &MockAnalyzer{
		AnalyzeReportFunc: func(ctx context.Context, imageBase64, mimeType string, profile store.UserProfile) (store.AIAnalysis, error) {
			return validAnalysis(), nil
		},
	}
	embedder := &MockEmbedder{
		GetEmbeddingFunc: func(ctx context.Context, text string) ([]float32, error) {
			embeddedText = text
			return []float32{0.1, 0.2}, nil
		},
	}
	appender := &MockReportAppender{
		AppendReportFunc: func(ctx context.Context, userID int64, rec store.ReportRecord) (store.ReportRecord, error) {
			rec.ID = "stored-id"
			rec.UserID = userID
			return rec, nil
		},
	}

	svc := NewReportService(analyzer, embedder, appender, sessions)
	rec, err := svc.UploadAndAnalyze(ctx, 7, "scan.jpg", "image/jpeg", "aW1hZ2U=", store.DefaultProfile())

	assert.NoError(t, err)
	assert.Equal(t, "stored-id", rec.ID)
	assert.Equal(t, int64(7), rec.UserID)
	assert.Equal(t, "scan.jpg", rec.FileName)
	assert.Equal(t, []float32{0.1, 0.2}, rec.Embedding)
	assert.Equal(t, "Everything looks normal.", embeddedText, "the embedding must be computed from the stored summary")

	current, inProgress := sessions.ForUser(7).Snapshot()
	assert.False(t, inProgress)
	assert.NotNil(t, current)
	assert.Equal(t, "Everything looks normal.", current.Summary)

	otherCurrent, otherInProgress := sessions.ForUser(8).Snapshot()
	assert.Nil(t, otherCurrent, "another user's session must stay empty")
	assert.False(t, otherInProgress)
}

func TestUploadAndAnalyzeSubstitutesPlaceholderForNonImages(t *testing.T) {
	ctx := context.Background()

	var analyzedBase64, analyzedMime string
	analyzer := &MockAnalyzer{
		AnalyzeReportFunc: func(ctx context.Context, imageBase64, mimeType string, profile store.UserProfile) (store.AIAnalysis, error) {
			analyzedBase64 = imageBase64
			analyzedMime = mimeType
			return validAnalysis(), nil
		},
	}
	embedder := &MockEmbedder{
		GetEmbeddingFunc: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{1}, nil
		},
	}
	appender := &MockReportAppender{
		AppendReportFunc: func(ctx context.Context, userID int64, rec store.ReportRecord) (store.ReportRecord, error) {
			return rec, nil
		},
	}

	svc := NewReportService(analyzer, embedder, appender, NewSessionRegistry())
	rec, err := svc.UploadAndAnalyze(ctx, 7, "report.pdf", "application/pdf", "JVBERi0xLjQ=", store.DefaultProfile())

	assert.NoError(t, err)
	assert.Equal(t, placeholderPixelBase64, analyzedBase64, "non-image payload must be replaced by the placeholder pixel")
	assert.Equal(t, "image/png", analyzedMime)
	assert.Equal(t, "report.pdf", rec.FileName, "the record keeps the original file name")
	assert.NotEmpty(t, rec.Summary)
}

func TestUploadAndAnalyzeDegradesWhenEmbeddingFails(t *testing.T) {
	ctx := context.Background()
	analyzer := &MockAnalyzer{
		AnalyzeReportFunc: func(ctx context.Context, imageBase64, mimeType string, profile store.UserProfile) (store.AIAnalysis, error) {
			return validAnalysis(), nil
		},
	}
	embedder := &MockEmbedder{
		GetEmbeddingFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, fmt.Errorf("%w: quota exceeded", ErrEmbeddingUnavailable)
		},
	}

	var stored store.ReportRecord
	appender := &MockReportAppender{
		AppendReportFunc: func(ctx context.Context, userID int64, rec store.ReportRecord) (store.ReportRecord, error) {
			stored = rec
			return rec, nil
		},
	}

	svc := NewReportService(analyzer, embedder, appender, NewSessionRegistry())
	_, err := svc.UploadAndAnalyze(ctx, 7, "scan.jpg", "image/jpeg", "aW1hZ2U=", store.DefaultProfile())

	assert.NoError(t, err, "embedding failure must not fail the upload")
	assert.Empty(t, stored.Embedding)
	assert.Equal(t, "Everything looks normal.", stored.Summary)
}

func TestUploadAndAnalyzePropagatesAnalyzerFailure(t *testing.T) {
	ctx := context.Background()
	sessions := NewSessionRegistry()
	sessions.ForUser(7).Complete(validAnalysis()) // previous successful analysis

	analyzer := &MockAnalyzer{
		AnalyzeReportFunc: func(ctx context.Context, imageBase64, mimeType string, profile store.UserProfile) (store.AIAnalysis, error) {
			return store.AIAnalysis{}, fmt.Errorf("%w: missing summary", ErrMalformedAnalysis)
		},
	}
	embedder := &MockEmbedder{}
	appender := &MockReportAppender{
		AppendReportFunc: func(ctx context.Context, userID int64, rec store.ReportRecord) (store.ReportRecord, error) {
			t.Fatal("nothing may be stored when analysis fails")
			return rec, nil
		},
	}

	svc := NewReportService(analyzer, embedder, appender, sessions)
	_, err := svc.UploadAndAnalyze(ctx, 7, "scan.jpg", "image/jpeg", "aW1hZ2U=", store.DefaultProfile())

	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedAnalysis))

	current, inProgress := sessions.ForUser(7).Snapshot()
	assert.False(t, inProgress, "the in-progress flag must clear on failure")
	assert.NotNil(t, current, "the previous analysis must survive a failed upload")
	assert.Equal(t, "Everything looks normal.", current.Summary)
	assert.Zero(t, embedder.CallCount, "no embedding call without an analysis")
}

func TestAnalysisSessionLifecycle(t *testing.T) {
	s := NewAnalysisSession()

	current, inProgress := s.Snapshot()
	assert.Nil(t, current)
	assert.False(t, inProgress)

	s.Begin()
	_, inProgress = s.Snapshot()
	assert.True(t, inProgress)

	s.Complete(validAnalysis())
	current, inProgress = s.Snapshot()
	assert.False(t, inProgress)
	assert.NotNil(t, current)

	s.Clear()
	current, inProgress = s.Snapshot()
	assert.Nil(t, current)
	assert.False(t, inProgress)
}

func TestSessionRegistryKeysSessionsByUser(t *testing.T) {
	r := NewSessionRegistry()

	assert.Same(t, r.ForUser(1), r.ForUser(1), "repeated lookups must return the same session")
	assert.NotSame(t, r.ForUser(1), r.ForUser(2), "users must never share a session")

	r.ForUser(1).Complete(validAnalysis())
	current, _ := r.ForUser(2).Snapshot()
	assert.Nil(t, current)

	r.Drop(1)
	current, _ = r.ForUser(1).Snapshot()
	assert.Nil(t, current, "a dropped session must come back empty")
}
