package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/fls-grading/portal/internal/access"
	"github.com/fls-grading/portal/internal/api/handler"
	"github.com/fls-grading/portal/internal/api/middleware"
)

// RouterDeps holds all dependencies needed by the router.
type RouterDeps struct {
	Guard       *access.Guard
	DBPinger    handler.DBPinger
	Version     string
	OpenAPISpec []byte

	Grader      *handler.GraderHandler
	Auth        *handler.AuthHandler
	Submissions *handler.SubmissionHandler
	Admin       *handler.AdminHandler
}

// NewRouter creates and configures a Chi router with all middleware and routes.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(chimiddleware.Logger)

	r.Get("/health", handler.NewHealthHandler(deps.DBPinger, deps.Version).ServeHTTP)

	if len(deps.OpenAPISpec) > 0 {
		r.Get("/openapi.json", handler.NewOpenAPIHandler(deps.OpenAPISpec).ServeHTTP)
	}

	if deps.Grader != nil {
		r.Route("/api/grader", func(r chi.Router) {
			r.Use(middleware.Auth(deps.Guard.AuthenticateWorker))

			r.Post("/heartbeat", deps.Grader.Heartbeat)
			r.Post("/grading", deps.Grader.Grading)
			r.Get("/submissions", deps.Grader.List)
			r.Post("/submissions/{id}/claim", deps.Grader.Claim)
			r.Post("/submissions/{id}/result", deps.Grader.Result)
			r.Get("/submissions/{id}/tarball", deps.Grader.Tarball)
			r.With(middleware.RequireAdmin()).Post("/submissions/{id}/cancel", deps.Grader.Cancel)
		})
	}

	if deps.Auth != nil {
		r.Post("/auth/magic", deps.Auth.RequestLink)
		r.Get("/auth/magic/verify", deps.Auth.LinkPage)
		r.Post("/auth/magic/verify", deps.Auth.ConfirmLink)
		r.Post("/auth/logout", deps.Auth.Logout)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(deps.Guard.Authenticate))

		if deps.Auth != nil {
			r.Get("/me", deps.Auth.Me)
		}

		if deps.Submissions != nil {
			r.Route("/submissions", func(r chi.Router) {
				r.Post("/", deps.Submissions.Create)
				r.Get("/", deps.Submissions.List)
				r.Get("/{id}", deps.Submissions.GetByID)
				r.Get("/{id}/logs", deps.Submissions.Logs)
				r.Get("/{id}/tarball", deps.Submissions.Tarball)
			})
		}

		if deps.Admin != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin())

				r.Get("/users", deps.Admin.ListUsers)
				r.Post("/users", deps.Admin.AddUsers)
				r.Get("/users/{id}", deps.Admin.GetUser)
				r.Patch("/users/{id}", deps.Admin.UpdateUser)
				r.Delete("/users/{id}", deps.Admin.DeleteUser)

				r.Get("/submissions", deps.Admin.ListSubmissions)
				r.Post("/submissions/{id}/grade", deps.Admin.GradeSubmission)
				r.Post("/submissions/{id}/cancel", deps.Admin.CancelSubmission)

				r.Get("/apikeys", deps.Admin.ListAPIKeys)
				r.Post("/apikeys", deps.Admin.CreateAPIKey)
				r.Delete("/apikeys/{id}", deps.Admin.RevokeAPIKey)
				r.Get("/workers", deps.Admin.ListWorkers)
				r.Get("/roster", deps.Admin.Roster)
			})
		}
	})

	return r
}
