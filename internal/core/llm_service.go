package core

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"mediassist.app/server/internal/config"
	"mediassist.app/server/internal/store"
)

const (
	defaultChatModelName      = "gemini-1.5-flash-latest"
	defaultAnalysisModelName  = "gemini-1.5-flash-latest"
	defaultEmbeddingModelName = "text-embedding-004"
)

// analysisSchema constrains the analyze call to the AIAnalysis shape at the
// request level, so the model cannot return free text.
var analysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"summary": {Type: genai.TypeString},
		"abnormalValues": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"parameter": {Type: genai.TypeString},
					"value":     {Type: genai.TypeString},
					"range":     {Type: genai.TypeString},
					"note":      {Type: genai.TypeString},
				},
				Required: []string{"parameter", "value", "range", "note"},
			},
		},
		"riskPrediction": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"level":       {Type: genai.TypeString, Enum: []string{"Low", "Medium", "High"}},
				"explanation": {Type: genai.TypeString},
				"nextSteps":   {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			},
			Required: []string{"level", "explanation", "nextSteps"},
		},
	},
	Required: []string{"summary", "abnormalValues", "riskPrediction"},
}

type LLMService struct {
	client *genai.Client
}

func NewLLMService() *LLMService {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.AppConfig.GeminiAPIKey))
	if err != nil {
		log.Fatalf("Failed to create GenAI client: %v", err)
	}

	return &LLMService{
		client: client,
	}
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		} else {
			log.Println("GenAI client closed.")
		}
	}
}

// GetEmbedding converts text into a fixed-length vector (768 dims for
// text-embedding-004). Failures wrap ErrEmbeddingUnavailable; callers degrade
// to "no embedding" rather than failing their workflow. Empty input yields an
// empty vector without an outbound call.
func (s *LLMService) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, config.AppConfig.UpstreamTimeout)
	defer cancel()

	em := s.client.EmbeddingModel(defaultEmbeddingModelName)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: no embedding data received", ErrEmbeddingUnavailable)
	}
	return res.Embedding.Values, nil
}

// AnalyzeReport sends the report image and the user's health snapshot to the
// model in one multimodal request and decodes the schema-constrained JSON
// response. It never persists anything; storage is the caller's concern.
func (s *LLMService) AnalyzeReport(ctx context.Context, imageBase64, mimeType string, profile store.UserProfile) (store.AIAnalysis, error) {
	imageData, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		return store.AIAnalysis{}, fmt.Errorf("failed to decode image payload: %w", err)
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	ctx, cancel := context.WithTimeout(ctx, config.AppConfig.UpstreamTimeout)
	defer cancel()

	model := s.client.GenerativeModel(defaultAnalysisModelName)
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   analysisSchema,
	}

	instruction := fmt.Sprintf(
		"Analyze this medical report for a %d-year-old %s with %s blood. "+
			"User history: Allergies: %s. Chronic Conditions: %s. "+
			"Explain everything in simple English for an elderly person. "+
			"Highlight any values outside normal ranges. "+
			"Predict health risks based on this data.",
		profile.Age, profile.Gender, profile.BloodType,
		joinOrNone(profile.Allergies), joinOrNone(profile.ChronicConditions))

	resp, err := model.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: imageData},
		genai.Text(instruction))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return store.AIAnalysis{}, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return store.AIAnalysis{}, fmt.Errorf("gemini analysis request failed: %w", err)
	}

	raw := collectResponseText(resp)
	if raw == "" {
		return store.AIAnalysis{}, fmt.Errorf("%w: empty model response", ErrMalformedAnalysis)
	}

	return decodeAnalysis(raw)
}

// GetChatCompletion runs one chat turn against the model with the given
// system instruction and prior conversation turns.
func (s *LLMService) GetChatCompletion(ctx context.Context, systemInstruction string, history []store.ChatTurn, message string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, config.AppConfig.UpstreamTimeout)
	defer cancel()

	model := s.client.GenerativeModel(defaultChatModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}

	chatSession := model.StartChat()
	for _, turn := range history {
		role := turn.Role
		if role != "user" {
			role = "model"
		}
		chatSession.History = append(chatSession.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(turn.Text)},
		})
	}

	resp, err := chatSession.SendMessage(ctx, genai.Text(message))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}

	text := collectResponseText(resp)
	if text == "" {
		return "", fmt.Errorf("gemini chat response was empty or non-text")
	}
	return text, nil
}

func collectResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		} else {
			log.Printf("Gemini response part was not text: %T", part)
		}
	}
	return strings.TrimSpace(b.String())
}

// decodeAnalysis validates the model's JSON against the full AIAnalysis
// contract and fails closed: any missing required field rejects the whole
// response.
func decodeAnalysis(raw string) (store.AIAnalysis, error) {
	var analysis store.AIAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return store.AIAnalysis{}, fmt.Errorf("%w: %v", ErrMalformedAnalysis, err)
	}

	if strings.TrimSpace(analysis.Summary) == "" {
		return store.AIAnalysis{}, fmt.Errorf("%w: missing summary", ErrMalformedAnalysis)
	}
	for i, av := range analysis.AbnormalValues {
		if av.Parameter == "" || av.Value == "" || av.Range == "" || av.Note == "" {
			return store.AIAnalysis{}, fmt.Errorf("%w: abnormal value %d is missing a required field", ErrMalformedAnalysis, i)
		}
	}
	if !analysis.RiskPrediction.Level.Valid() {
		return store.AIAnalysis{}, fmt.Errorf("%w: invalid risk level %q", ErrMalformedAnalysis, analysis.RiskPrediction.Level)
	}
	if strings.TrimSpace(analysis.RiskPrediction.Explanation) == "" {
		return store.AIAnalysis{}, fmt.Errorf("%w: missing risk explanation", ErrMalformedAnalysis)
	}

	if analysis.AbnormalValues == nil {
		analysis.AbnormalValues = []store.AbnormalValue{}
	}
	if analysis.RiskPrediction.NextSteps == nil {
		analysis.RiskPrediction.NextSteps = []string{}
	}
	return analysis, nil
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	return strings.Join(items, ", ")
}
