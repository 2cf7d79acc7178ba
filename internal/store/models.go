package store

import "time"

type User struct {
	ID             int64     `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	PasswordHash   string    `json:"-"` // Do not expose this in JSON responses
	CreatedAt      time.Time `json:"created_at"`
}

// RiskLevel is the coarse risk bucket predicted for a report.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Valid reports whether the level is one of the three known buckets.
func (l RiskLevel) Valid() bool {
	return l == RiskLow || l == RiskMedium || l == RiskHigh
}

// UserProfile is the health snapshot passed into every AI call. The core
// never mutates it; updates come in through the profile endpoint.
type UserProfile struct {
	Name              string   `json:"name"`
	Age               int      `json:"age"`
	Gender            string   `json:"gender"`
	BloodType         string   `json:"blood_type"`
	Allergies         []string `json:"allergies"`
	ChronicConditions []string `json:"chronic_conditions"`
	Language          string   `json:"language"`
}

// AbnormalValue is one out-of-range finding in a report. All four fields are
// required; values are display strings, not parsed numbers.
type AbnormalValue struct {
	Parameter string `json:"parameter"`
	Value     string `json:"value"`
	Range     string `json:"range"`
	Note      string `json:"note"`
}

type RiskAssessment struct {
	Level       RiskLevel `json:"level"`
	Explanation string    `json:"explanation"`
	NextSteps   []string  `json:"nextSteps"`
}

// AIAnalysis is the structured result of analyzing one report image. It is
// either fully populated or the analyze call failed; partial analyses are
// never constructed.
type AIAnalysis struct {
	Summary        string          `json:"summary"`
	AbnormalValues []AbnormalValue `json:"abnormalValues"`
	RiskPrediction RiskAssessment  `json:"riskPrediction"`
}

// ReportRecord is one analyzed report persisted under a user's partition.
// Records are append-only; there is no update path. A record whose Embedding
// is empty still appears in listings but is skipped by vector retrieval.
type ReportRecord struct {
	ID             string          `json:"id"`
	UserID         int64           `json:"user_id"`
	FileName       string          `json:"file_name"`
	Summary        string          `json:"summary"`
	AbnormalValues []AbnormalValue `json:"abnormal_values"`
	RiskPrediction RiskAssessment  `json:"risk_prediction"`
	Embedding      []float32       `json:"-"` // internal, not marshaled in API responses
	CreatedAt      time.Time       `json:"created_at"`
}

// ChatTurn is one message of an in-flight conversation. Conversations live
// only as long as the chat view; the core does not persist them.
type ChatTurn struct {
	Role string `json:"role"` // "user" or "model"
	Text string `json:"text"`
}

type Reminder struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Type      string    `json:"type"` // "medication" or "appointment"
	Title     string    `json:"title"`
	Time      string    `json:"time"`
	Frequency string    `json:"frequency"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultProfile is the anonymous profile used before sign-in and after
// sign-out, when no stored profile exists for the user.
func DefaultProfile() UserProfile {
	return UserProfile{
		Name:              "Guest",
		Age:               65,
		Gender:            "Unspecified",
		BloodType:         "Unknown",
		Allergies:         []string{},
		ChronicConditions: []string{},
		Language:          "en",
	}
}
