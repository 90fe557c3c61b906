package app

import (
	"database/sql"
	"net/http"
	"time"

	"examhub/internal/app/observability"
	"examhub/internal/assistant"
	"examhub/internal/auth"
	"examhub/internal/exam"
	"examhub/internal/masterdata"
	"examhub/internal/question"
	"examhub/internal/report"
	"examhub/internal/result"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)

	authSvc := auth.NewService(db, auth.ServiceConfig{
		BootstrapToken: cfg.BootstrapToken,
	})
	authHandler := auth.NewHandler(authSvc)

	examSvc := exam.NewService(db, exam.ServiceConfig{
		DefaultMaxScore:    cfg.DefaultMaxScore,
		DefaultMaxAttempts: cfg.DefaultMaxAttempts,
	})
	examHandler := exam.NewHandler(examSvc)

	questionSvc := question.NewService(db, 1)
	questionHandler := question.NewHandler(questionSvc)

	masterSvc := masterdata.NewService(db)
	masterHandler := masterdata.NewHandler(masterSvc)

	resultSvc := result.NewService(db)
	resultHandler := result.NewHandler(resultSvc)

	reportSvc := report.NewService(db)
	reportHandler := report.NewHandler(reportSvc)

	assistantSvc := assistant.NewService(assistant.ServiceConfig{
		GeminiAPIKey: cfg.AssistantAPIKey,
		GeminiModel:  cfg.AssistantModel,
	})
	assistantHandler := assistant.NewHandler(assistantSvc)

	authLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))

		api.Group(func(open chi.Router) {
			open.Use(RateLimitMiddleware(authLimiter))
			open.Post("/bootstrap/init", authHandler.BootstrapInit)
			open.Post("/auth/login", authHandler.Login)
		})

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/auth/logout", authHandler.Logout)

			secure.Post("/attempts/start", examHandler.Start)
			secure.Post("/attempts/{id}/submit", examHandler.Submit)
			secure.Get("/attempts/{id}", examHandler.GetAttempt)
			secure.Get("/attempts/{id}/comprehensive", examHandler.Comprehensive)

			secure.Get("/exams", examHandler.ListExams)
			secure.Get("/exams/available", examHandler.ListAvailable)
			secure.Get("/exams/{id}", examHandler.GetExam)

			secure.Get("/results", resultHandler.ListMine)
			secure.Get("/results/{id}", resultHandler.Get)

			secure.Post("/assistant/ask", assistantHandler.Reply)

			secure.Group(func(staff chi.Router) {
				staff.Use(authHandler.RequireRoles(auth.RolePrincipal, auth.RoleTeacher))

				staff.Post("/exams", examHandler.CreateExam)
				staff.Put("/exams/{id}", examHandler.UpdateExam)
				staff.Delete("/exams/{id}", examHandler.DeleteExam)
				staff.Get("/exams/{id}/questions", examHandler.ListExamQuestions)
				staff.Put("/exams/{id}/questions", examHandler.ReplaceExamQuestions)
				staff.Get("/exams/{id}/results", resultHandler.ListByExam)

				staff.Get("/questions", questionHandler.List)
				staff.Post("/questions", questionHandler.Create)
				staff.Get("/questions/export", questionHandler.Export)
				staff.Post("/questions/import", questionHandler.Import)
				staff.Get("/questions/{id}", questionHandler.Get)
				staff.Put("/questions/{id}", questionHandler.Update)
				staff.Delete("/questions/{id}", questionHandler.Delete)

				staff.Put("/results/{id}/grade", resultHandler.Grade)

				staff.Get("/classes", masterHandler.ListClasses)
				staff.Get("/subjects", masterHandler.ListSubjects)

				staff.Get("/analytics/exams/{id}", reportHandler.Summary)
				staff.Get("/analytics/exams/{id}/questions", reportHandler.QuestionStats)
			})

			secure.Group(func(principal chi.Router) {
				principal.Use(authHandler.RequireRoles(auth.RolePrincipal))

				principal.Post("/admin/users", authHandler.CreateUser)
				principal.Get("/admin/users", authHandler.ListUsers)
				principal.Put("/admin/users/{id}", authHandler.UpdateUser)
				principal.Delete("/admin/users/{id}", authHandler.DeactivateUser)

				principal.Post("/classes", masterHandler.CreateClass)
				principal.Put("/classes/{id}", masterHandler.UpdateClass)
				principal.Delete("/classes/{id}", masterHandler.DeleteClass)
				principal.Post("/classes/students/import", masterHandler.ImportStudentsCSV)

				principal.Post("/subjects", masterHandler.CreateSubject)
				principal.Put("/subjects/{id}", masterHandler.UpdateSubject)
				principal.Delete("/subjects/{id}", masterHandler.DeleteSubject)
			})
		})
	})

	return r
}
