package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"mediassist.app/server/internal/store"
)

const (
	chatSystemInstructionTemplate = "You are MediAssist, a compassionate and knowledgeable personal healthcare assistant. " +
		"You are speaking to a %d-year-old user named %s. " +
		"Current user profile: Gender: %s, Blood: %s, Allergies: %s, Chronic Conditions: %s. " +
		"Your goal is to explain health concepts simply, offer friendly reminders, and support their wellness journey. " +
		"NEVER provide formal medical diagnosis. Always include a reminder to consult a doctor for serious concerns. " +
		"Use simple language suitable for elderly users."

	// ApologyMessage is the fixed user-safe reply when every answer strategy
	// has been exhausted. It is returned in place of an error so no raw
	// failure ever reaches the UI.
	ApologyMessage = "I'm sorry, I'm having trouble answering right now. Please try again in a moment, " +
		"and please consult your doctor if this is urgent."
)

// Answerer produces a natural-language reply to a health question. Output is
// opaque non-empty text; implementations are free to be non-deterministic.
type Answerer interface {
	Answer(ctx context.Context, message string, userID int64, profile store.UserProfile, history []store.ChatTurn) (string, error)
}

// ChatModel is the single-turn chat capability the direct strategy needs.
type ChatModel interface {
	GetChatCompletion(ctx context.Context, systemInstruction string, history []store.ChatTurn, message string) (string, error)
}

// TrustedAnswerer delegates the whole retrieve-and-generate sequence to a
// privileged callable endpoint with direct store access. Only the message and
// user identity cross the wire.
type TrustedAnswerer struct {
	endpoint string
	client   *http.Client
}

func NewTrustedAnswerer(endpoint string, client *http.Client) *TrustedAnswerer {
	if client == nil {
		client = http.DefaultClient
	}
	return &TrustedAnswerer{endpoint: endpoint, client: client}
}

type trustedRequest struct {
	Data struct {
		Message string `json:"message"`
		UserID  int64  `json:"userId"`
	} `json:"data"`
}

type trustedResponse struct {
	Result struct {
		Answer string `json:"answer"`
	} `json:"result"`
}

func (a *TrustedAnswerer) Answer(ctx context.Context, message string, userID int64, _ store.UserProfile, _ []store.ChatTurn) (string, error) {
	var payload trustedRequest
	payload.Data.Message = message
	payload.Data.UserID = userID

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal trusted answer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build trusted answer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return "", fmt.Errorf("trusted answer call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("trusted answer endpoint returned status %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read trusted answer response: %w", err)
	}

	var decoded trustedResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("failed to decode trusted answer response: %w", err)
	}
	if strings.TrimSpace(decoded.Result.Answer) == "" {
		return "", fmt.Errorf("trusted answer endpoint returned an empty answer")
	}
	return decoded.Result.Answer, nil
}

// DirectAnswerer performs retrieval-augmented generation locally: it builds
// the history context itself and sends one prompt to the chat model.
type DirectAnswerer struct {
	retriever *ContextRetriever
	llm       ChatModel
}

func NewDirectAnswerer(retriever *ContextRetriever, llm ChatModel) *DirectAnswerer {
	return &DirectAnswerer{retriever: retriever, llm: llm}
}

func (a *DirectAnswerer) Answer(ctx context.Context, message string, userID int64, profile store.UserProfile, history []store.ChatTurn) (string, error) {
	systemInstruction := fmt.Sprintf(chatSystemInstructionTemplate,
		profile.Age, profile.Name, profile.Gender, profile.BloodType,
		joinOrNone(profile.Allergies), joinOrNone(profile.ChronicConditions))

	historyContext := a.retriever.BuildContext(ctx, userID, message)

	var prompt string
	if historyContext != NoPriorReportsContext {
		prompt = fmt.Sprintf(
			"USER HISTORY SEARCH RESULTS (MOST RELEVANT):\n%s\n\nCURRENT USER QUESTION:\n%q\n\n"+
				"Instructions: Use the history summaries provided above to give a personalized answer. "+
				"If the history is not relevant, answer based on general knowledge but prioritize history.",
			historyContext, message)
	} else {
		prompt = fmt.Sprintf(
			"The user has no prior report history on file.\n\nCURRENT USER QUESTION:\n%q\n\n"+
				"Instructions: Answer based on general knowledge and the user's profile.",
			message)
	}

	answer, err := a.llm.GetChatCompletion(ctx, systemInstruction, history, prompt)
	if err != nil {
		return "", fmt.Errorf("direct answer failed: %w", err)
	}
	return answer, nil
}

// AnswerChain tries each strategy in order, translating any failure into a
// fallback to the next one. When every strategy fails it returns the fixed
// apology instead of an error.
type AnswerChain struct {
	strategies []Answerer
}

func NewAnswerChain(strategies ...Answerer) *AnswerChain {
	return &AnswerChain{strategies: strategies}
}

func (c *AnswerChain) Answer(ctx context.Context, message string, userID int64, profile store.UserProfile, history []store.ChatTurn) (string, error) {
	for i, strategy := range c.strategies {
		answer, err := strategy.Answer(ctx, message, userID, profile, history)
		if err == nil {
			return answer, nil
		}
		log.Printf("Answer strategy %d/%d failed, trying next: %v", i+1, len(c.strategies), err)
	}
	return ApologyMessage, nil
}
