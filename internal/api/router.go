package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			// Report upload and library
			r.Post("/reports", apiHandler.UploadReportHandler)
			r.Get("/reports", apiHandler.ListReportsHandler)
			r.Get("/analysis", apiHandler.GetAnalysisHandler)

			// RAG chat
			r.Post("/chat", apiHandler.ChatHandler)

			// Profile
			r.Get("/profile", apiHandler.GetProfileHandler)
			r.Put("/profile", apiHandler.UpdateProfileHandler)

			// Reminders
			r.Get("/reminders", apiHandler.ListRemindersHandler)
			r.Post("/reminders", apiHandler.CreateReminderHandler)
			r.Put("/reminders/{reminderID}", apiHandler.UpdateReminderHandler)
			r.Delete("/reminders/{reminderID}", apiHandler.DeleteReminderHandler)
		})
	})

	return r
}
