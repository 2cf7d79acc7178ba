package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"mediassist.app/server/internal/auth"
	"mediassist.app/server/internal/core"
	"mediassist.app/server/internal/store"
)

type APIHandler struct {
	store         *store.SQLiteStore
	reportService *core.ReportService
	answerer      core.Answerer
	sessions      *core.SessionRegistry
}

func NewAPIHandler(st *store.SQLiteStore, rs *core.ReportService, answerer core.Answerer, sessions *core.SessionRegistry) *APIHandler {
	return &APIHandler{
		store:         st,
		reportService: rs,
		answerer:      answerer,
		sessions:      sessions,
	}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		externalUserID, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := h.store.GetUserByExternalID(externalUserID)
		if err != nil {
			log.Printf("Error in JWTAuthMiddleware for user %s: %v", externalUserID, err)
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}

		if user == nil {
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "userID", user.ID)
		ctx = context.WithValue(ctx, "externalUserID", user.ExternalUserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFromContext(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value("userID").(int64)
	return id, ok
}

type SignupRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.UserID == "" || req.Password == "" {
		http.Error(w, "User ID and password are required", http.StatusBadRequest)
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("Error hashing password for user %s: %v", req.UserID, err)
		http.Error(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	user, err := h.store.CreateUser(req.UserID, hashedPassword)
	if err != nil {
		log.Printf("Error creating user %s: %v", req.UserID, err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

type LoginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.UserID == "" || req.Password == "" {
		http.Error(w, "User ID and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.store.GetUserByExternalID(req.UserID)
	if err != nil {
		log.Printf("Error getting user %s: %v", req.UserID, err)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(user.ExternalUserID)
	if err != nil {
		log.Printf("Error generating token for user %s: %v", req.UserID, err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type UploadReportRequest struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64-encoded file bytes
}

func (h *APIHandler) UploadReportHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req UploadReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.FileName == "" || req.Data == "" {
		http.Error(w, "file_name and data are required", http.StatusBadRequest)
		return
	}

	profile, err := h.store.GetProfile(r.Context(), userID)
	if err != nil {
		log.Printf("Error loading profile for user %d: %v", userID, err)
		http.Error(w, "Failed to load profile", http.StatusInternalServerError)
		return
	}

	record, err := h.reportService.UploadAndAnalyze(r.Context(), userID, req.FileName, req.MimeType, req.Data, profile)
	if err != nil {
		log.Printf("Upload analysis failed for user %d: %v", userID, err)
		http.Error(w, "Report analysis failed. Please try again with a clearer image.", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

func (h *APIHandler) ListReportsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			limit = n
		}
	}

	records, err := h.store.ListRecentReports(r.Context(), userID, limit)
	if err != nil {
		log.Printf("Error listing reports for user %d: %v", userID, err)
		http.Error(w, "Failed to list reports", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *APIHandler) GetAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	analysis, inProgress := h.sessions.ForUser(userID).Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"analysis":    analysis,
		"in_progress": inProgress,
	})
}

type ChatRequest struct {
	Message string           `json:"message"`
	History []store.ChatTurn `json:"history"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	profile, err := h.store.GetProfile(r.Context(), userID)
	if err != nil {
		log.Printf("Error loading profile for user %d: %v", userID, err)
		profile = store.DefaultProfile()
	}

	answer, err := h.answerer.Answer(r.Context(), req.Message, userID, profile, req.History)
	if err != nil {
		// The chain absorbs strategy failures; an error here is a programming
		// error, but the user still gets a safe reply.
		log.Printf("Answerer returned an error for user %d: %v", userID, err)
		answer = core.ApologyMessage
	}

	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func (h *APIHandler) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	profile, err := h.store.GetProfile(r.Context(), userID)
	if err != nil {
		log.Printf("Error loading profile for user %d: %v", userID, err)
		http.Error(w, "Failed to load profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *APIHandler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var profile store.UserProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if profile.Age <= 0 {
		http.Error(w, "age must be a positive integer", http.StatusBadRequest)
		return
	}

	if err := h.store.SaveProfile(r.Context(), userID, profile); err != nil {
		log.Printf("Error saving profile for user %d: %v", userID, err)
		http.Error(w, "Failed to save profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *APIHandler) ListRemindersHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	reminders, err := h.store.GetRemindersByUserID(r.Context(), userID)
	if err != nil {
		log.Printf("Error listing reminders for user %d: %v", userID, err)
		http.Error(w, "Failed to list reminders", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, reminders)
}

func (h *APIHandler) CreateReminderHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var rem store.Reminder
	if err := json.NewDecoder(r.Body).Decode(&rem); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if rem.Title == "" || (rem.Type != "medication" && rem.Type != "appointment") {
		http.Error(w, "title and a type of 'medication' or 'appointment' are required", http.StatusBadRequest)
		return
	}
	rem.UserID = userID

	if err := h.store.CreateReminder(r.Context(), &rem); err != nil {
		log.Printf("Error creating reminder for user %d: %v", userID, err)
		http.Error(w, "Failed to create reminder", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, rem)
}

func (h *APIHandler) UpdateReminderHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var rem store.Reminder
	if err := json.NewDecoder(r.Body).Decode(&rem); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	rem.ID = chi.URLParam(r, "reminderID")

	if err := h.store.UpdateReminder(r.Context(), userID, rem); err != nil {
		log.Printf("Error updating reminder %s for user %d: %v", rem.ID, userID, err)
		http.Error(w, "Reminder not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (h *APIHandler) DeleteReminderHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	reminderID := chi.URLParam(r, "reminderID")
	if err := h.store.DeleteReminder(r.Context(), userID, reminderID); err != nil {
		log.Printf("Error deleting reminder %s for user %d: %v", reminderID, userID, err)
		http.Error(w, "Reminder not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
