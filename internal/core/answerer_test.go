package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"mediassist.app/server/internal/store"
)

func testProfile() store.UserProfile {
	return store.UserProfile{
		Name:              "Robert Wilson",
		Age:               68,
		Gender:            "Male",
		BloodType:         "A+",
		Allergies:         []string{"Penicillin"},
		ChronicConditions: []string{"Type 2 Diabetes"},
	}
}

func TestAnswerChainPrefersFirstStrategy(t *testing.T) {
	trusted := &MockAnswerer{
		AnswerFunc: func(ctx context.Context, message string, userID int64, profile store.UserProfile, history []store.ChatTurn) (string, error) {
			return "trusted answer", nil
		},
	}
	direct := &MockAnswerer{}

	chain := NewAnswerChain(trusted, direct)
	answer, err := chain.Answer(context.Background(), "hi", 1, testProfile(), nil)
	assert.NoError(t, err)
	assert.Equal(t, "trusted answer", answer)
	assert.Zero(t, atomic.LoadInt32(&direct.CallCount), "direct strategy must not run when trusted succeeds")
}

func TestAnswerChainFallsBackOnFailure(t *testing.T) {
	trusted := &MockAnswerer{
		AnswerFunc: func(ctx context.Context, message string, userID int64, profile store.UserProfile, history []store.ChatTurn) (string, error) {
			return "", fmt.Errorf("%w: function not deployed", ErrUpstreamTimeout)
		},
	}
	direct := &MockAnswerer{
		AnswerFunc: func(ctx context.Context, message string, userID int64, profile store.UserProfile, history []store.ChatTurn) (string, error) {
			return "direct answer", nil
		},
	}

	chain := NewAnswerChain(trusted, direct)
	answer, err := chain.Answer(context.Background(), "hi", 1, testProfile(), nil)
	assert.NoError(t, err)
	assert.Equal(t, "direct answer", answer)
	assert.Equal(t, int32(1), atomic.LoadInt32(&trusted.CallCount))
}

func TestAnswerChainApologizesWhenAllStrategiesFail(t *testing.T) {
	failing := &MockAnswerer{
		AnswerFunc: func(ctx context.Context, message string, userID int64, profile store.UserProfile, history []store.ChatTurn) (string, error) {
			return "", errors.New("down")
		},
	}

	chain := NewAnswerChain(failing, failing)
	answer, err := chain.Answer(context.Background(), "hi", 1, testProfile(), nil)
	assert.NoError(t, err, "exhausted chain must not surface an error")
	assert.Equal(t, ApologyMessage, answer)
	assert.NotEmpty(t, answer)
}

func TestDirectAnswererIncludesRetrievedContext(t *testing.T) {
	embedder := &MockEmbedder{
		GetEmbeddingFunc: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{1, 0}, nil
		},
	}
	reports := &MockReportReader{
		FindNearestReportsFunc: func(ctx context.Context, userID int64, q []float32, k int, metric store.DistanceMetric) ([]store.ReportRecord, error) {
			return []store.ReportRecord{{
				FileName:  "lipid_panel.pdf",
				Summary:   "LDL slightly elevated.",
				CreatedAt: time.Date(2024, 8, 5, 0, 0, 0, 0, time.UTC),
			}}, nil
		},
	}

	var gotSystem, gotPrompt string
	llm := &MockChatModel{
		GetChatCompletionFunc: func(ctx context.Context, systemInstruction string, history []store.ChatTurn, message string) (string, error) {
			gotSystem = systemInstruction
			gotPrompt = message
			return "here is your answer", nil
		},
	}

	a := NewDirectAnswerer(NewContextRetriever(embedder, reports), llm)
	history := []store.ChatTurn{{Role: "user", Text: "hello"}, {Role: "model", Text: "hi"}}
	answer, err := a.Answer(context.Background(), "how is my cholesterol?", 1, testProfile(), history)

	assert.NoError(t, err)
	assert.Equal(t, "here is your answer", answer)
	assert.Contains(t, gotSystem, "Robert Wilson")
	assert.Contains(t, gotSystem, "NEVER provide formal medical diagnosis")
	assert.Contains(t, gotPrompt, "lipid_panel.pdf")
	assert.Contains(t, gotPrompt, "how is my cholesterol?")
}

func TestDirectAnswererWithoutHistoryOmitsContextBlock(t *testing.T) {
	embedder := &MockEmbedder{
		GetEmbeddingFunc: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{1, 0}, nil
		},
	}
	reports := &MockReportReader{
		FindNearestReportsFunc: func(ctx context.Context, userID int64, q []float32, k int, metric store.DistanceMetric) ([]store.ReportRecord, error) {
			return []store.ReportRecord{}, nil
		},
	}

	var gotPrompt string
	llm := &MockChatModel{
		GetChatCompletionFunc: func(ctx context.Context, systemInstruction string, history []store.ChatTurn, message string) (string, error) {
			gotPrompt = message
			return "general answer", nil
		},
	}

	a := NewDirectAnswerer(NewContextRetriever(embedder, reports), llm)
	_, err := a.Answer(context.Background(), "what is blood pressure?", 1, testProfile(), nil)

	assert.NoError(t, err)
	assert.NotContains(t, gotPrompt, NoPriorReportsContext)
	assert.Contains(t, gotPrompt, "no prior report history")
}

func TestTrustedAnswerer(t *testing.T) {
	t.Run("returns the endpoint's answer", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			w.Write([]byte(`{"result":{"answer":"from the trusted side"}}`))
		}))
		defer srv.Close()

		a := NewTrustedAnswerer(srv.URL, srv.Client())
		answer, err := a.Answer(context.Background(), "hi", 42, testProfile(), nil)
		assert.NoError(t, err)
		assert.Equal(t, "from the trusted side", answer)
	})

	t.Run("non-200 status is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "not deployed", http.StatusNotFound)
		}))
		defer srv.Close()

		a := NewTrustedAnswerer(srv.URL, srv.Client())
		_, err := a.Answer(context.Background(), "hi", 42, testProfile(), nil)
		assert.Error(t, err)
	})

	t.Run("empty answer is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"result":{"answer":""}}`))
		}))
		defer srv.Close()

		a := NewTrustedAnswerer(srv.URL, srv.Client())
		_, err := a.Answer(context.Background(), "hi", 42, testProfile(), nil)
		assert.Error(t, err)
	})
}

// End to end through the chain: trusted endpoint always failing must still
// produce a non-empty answer via the direct strategy.
func TestChainSurvivesTrustedOutage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	embedder := &MockEmbedder{
		GetEmbeddingFunc: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{1, 0}, nil
		},
	}
	reports := &MockReportReader{
		FindNearestReportsFunc: func(ctx context.Context, userID int64, q []float32, k int, metric store.DistanceMetric) ([]store.ReportRecord, error) {
			return []store.ReportRecord{}, nil
		},
	}
	llm := &MockChatModel{
		GetChatCompletionFunc: func(ctx context.Context, systemInstruction string, history []store.ChatTurn, message string) (string, error) {
			return "fallback answer", nil
		},
	}

	chain := NewAnswerChain(
		NewTrustedAnswerer(srv.URL, srv.Client()),
		NewDirectAnswerer(NewContextRetriever(embedder, reports), llm),
	)
	answer, err := chain.Answer(context.Background(), "hi", 1, testProfile(), nil)
	assert.NoError(t, err)
	assert.Equal(t, "fallback answer", answer)
}
