package core

import (
	"context"
	"errors"
	"sync/atomic"

	"mediassist.app/server/internal/store"
)

// Compile-time checks that the mocks satisfy the contracts they stand in for.
var (
	_ Embedder       = (*MockEmbedder)(nil)
	_ ReportReader   = (*MockReportReader)(nil)
	_ Analyzer       = (*MockAnalyzer)(nil)
	_ ReportAppender = (*MockReportAppender)(nil)
	_ ChatModel      = (*MockChatModel)(nil)
	_ Answerer       = (*MockAnswerer)(nil)
)

type MockEmbedder struct {
	GetEmbeddingFunc func(ctx context.Context, text string) ([]float32, error)
	CallCount        int32
}

func (m *MockEmbedder) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&m.CallCount, 1)
	if m.GetEmbeddingFunc != nil {
		return m.GetEmbeddingFunc(ctx, text)
	}
	return nil, errors.New("GetEmbeddingFunc not implemented in mock")
}

type MockReportReader struct {
	ListRecentReportsFunc  func(ctx context.Context, userID int64, limit int) ([]store.ReportRecord, error)
	FindNearestReportsFunc func(ctx context.Context, userID int64, queryVector []float32, k int, metric store.DistanceMetric) ([]store.ReportRecord, error)
	ListRecentCallCount    int32
	FindNearestCallCount   int32
}

func (m *MockReportReader) ListRecentReports(ctx context.Context, userID int64, limit int) ([]store.ReportRecord, error) {
	atomic.AddInt32(&m.ListRecentCallCount, 1)
	if m.ListRecentReportsFunc != nil {
		return m.ListRecentReportsFunc(ctx, userID, limit)
	}
	return nil, errors.New("ListRecentReportsFunc not implemented in mock")
}

func (m *MockReportReader) FindNearestReports(ctx context.Context, userID int64, queryVector []float32, k int, metric store.DistanceMetric) ([]store.ReportRecord, error) {
	atomic.AddInt32(&m.FindNearestCallCount, 1)
	if m.FindNearestReportsFunc != nil {
		return m.FindNearestReportsFunc(ctx, userID, queryVector, k, metric)
	}
	return nil, errors.New("FindNearestReportsFunc not implemented in mock")
}

type MockAnalyzer struct {
	AnalyzeReportFunc func(ctx context.Context, imageBase64, mimeType string, profile store.UserProfile) (store.AIAnalysis, error)
}

func (m *MockAnalyzer) AnalyzeReport(ctx context.Context, imageBase64, mimeType string, profile store.UserProfile) (store.AIAnalysis, error) {
	if m.AnalyzeReportFunc != nil {
		return m.AnalyzeReportFunc(ctx, imageBase64, mimeType, profile)
	}
	return store.AIAnalysis{}, errors.New("AnalyzeReportFunc not implemented in mock")
}

type MockReportAppender struct {
	AppendReportFunc func(ctx context.Context, userID int64, rec store.ReportRecord) (store.ReportRecord, error)
}

func (m *MockReportAppender) AppendReport(ctx context.Context, userID int64, rec store.ReportRecord) (store.ReportRecord, error) {
	if m.AppendReportFunc != nil {
		return m.AppendReportFunc(ctx, userID, rec)
	}
	return store.ReportRecord{}, errors.New("AppendReportFunc not implemented in mock")
}

type MockChatModel struct {
	GetChatCompletionFunc func(ctx context.Context, systemInstruction string, history []store.ChatTurn, message string) (string, error)
}

func (m *MockChatModel) GetChatCompletion(ctx context.Context, systemInstruction string, history []store.ChatTurn, message string) (string, error) {
	if m.GetChatCompletionFunc != nil {
		return m.GetChatCompletionFunc(ctx, systemInstruction, history, message)
	}
	return "", errors.New("GetChatCompletionFunc not implemented in mock")
}

type MockAnswerer struct {
	AnswerFunc func(ctx context.Context, message string, userID int64, profile store.UserProfile, history []store.ChatTurn) (string, error)
	CallCount  int32
}

func (m *MockAnswerer) Answer(ctx context.Context, message string, userID int64, profile store.UserProfile, history []store.ChatTurn) (string, error) {
	atomic.AddInt32(&m.CallCount, 1)
	if m.AnswerFunc != nil {
		return m.AnswerFunc(ctx, message, userID, profile, history)
	}
	return "", errors.New("AnswerFunc not implemented in mock")
}
