package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/erazemk/makhzan/internal/auth"
	"github.com/erazemk/makhzan/internal/custody"
	"github.com/erazemk/makhzan/internal/imaging"
	"github.com/erazemk/makhzan/internal/metrics"
	"github.com/erazemk/makhzan/internal/model"
	"github.com/erazemk/makhzan/internal/photos"
	"github.com/erazemk/makhzan/internal/store"
)

// DefaultInstructorPassword is used when Deps.DefaultPassword is empty.
const DefaultInstructorPassword = "1234"

// Deps are the collaborators the HTTP handlers need. Custody, Photos,
// Images and Lockout get defaults built from DB when nil.
type Deps struct {
	DB        *sql.DB
	JWTSecret string
	TokenTTL  time.Duration

	Custody *custody.Service
	Photos  photos.Store
	Images  *imaging.Processor
	Lockout *auth.Lockout
	// Metrics is optional; without it /metrics is not served.
	Metrics *metrics.Metrics

	// DefaultPassword is given to new instructors and on reset.
	DefaultPassword string
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	if d.Custody == nil {
		ledger := store.NewLedger(d.DB)
		d.Custody = custody.New(ledger, ledger)
	}
	if d.Photos == nil {
		d.Photos = photos.NewDB(d.DB)
	}
	if d.Images == nil {
		d.Images = imaging.NewProcessor(imaging.DefaultMaxDimension)
	}
	if d.DefaultPassword == "" {
		d.DefaultPassword = DefaultInstructorPassword
	}
	if d.Lockout == nil {
		d.Lockout = auth.NewLockout(auth.DefaultMaxAttempts, auth.DefaultLockout)
	}

	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: d.DB, JWTSecret: d.JWTSecret, TokenTTL: d.TokenTTL, Lockout: d.Lockout}
	usersHandler := &UsersHandler{DB: d.DB}
	instructorsHandler := &InstructorsHandler{DB: d.DB, DefaultPassword: d.DefaultPassword}
	itemsHandler := &ItemsHandler{DB: d.DB, Custody: d.Custody, Photos: d.Photos, Images: d.Images}
	custodyHandler := &CustodyHandler{DB: d.DB, Custody: d.Custody}
	reportsHandler := &ReportsHandler{DB: d.DB, Custody: d.Custody}

	authMW := AuthMiddleware(d.JWTSecret, d.DB)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireSupervisor := RequireRole(model.RoleSupervisor)

	// Public.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("GET /api/roster", instructorsHandler.Roster)
	mux.HandleFunc("GET /healthz", health(d.DB))
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics.Handler())
	}

	// Own account.
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))

	// Users (admin only).
	mux.Handle("GET /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.List))))
	mux.Handle("POST /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.Create))))
	mux.Handle("GET /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Get))))
	mux.Handle("PUT /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Update))))
	mux.Handle("PUT /api/users/{id}/password", authMW(requireAdmin(http.HandlerFunc(usersHandler.ResetPassword))))
	mux.Handle("DELETE /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Delete))))

	// Instructors (supervisor+).
	mux.Handle("GET /api/instructors", authMW(requireSupervisor(http.HandlerFunc(instructorsHandler.List))))
	mux.Handle("POST /api/instructors", authMW(requireSupervisor(http.HandlerFunc(instructorsHandler.Create))))
	mux.Handle("DELETE /api/instructors/{id}", authMW(requireSupervisor(http.HandlerFunc(instructorsHandler.Delete))))
	mux.Handle("POST /api/instructors/{id}/reset-password", authMW(requireSupervisor(http.HandlerFunc(instructorsHandler.ResetPassword))))

	// Items: read (all roles), write (supervisor+).
	mux.Handle("GET /api/items", authMW(http.HandlerFunc(itemsHandler.List)))
	mux.Handle("POST /api/items", authMW(requireSupervisor(http.HandlerFunc(itemsHandler.Create))))
	mux.Handle("GET /api/items/{id}", authMW(http.HandlerFunc(itemsHandler.Get)))
	mux.Handle("DELETE /api/items/{id}", authMW(requireSupervisor(http.HandlerFunc(itemsHandler.Delete))))
	mux.Handle("PUT /api/items/{id}/image", authMW(requireSupervisor(http.HandlerFunc(itemsHandler.UploadImage))))
	mux.Handle("GET /api/items/{id}/image", authMW(http.HandlerFunc(itemsHandler.GetImage)))
	mux.Handle("GET /api/items/{id}/history", authMW(http.HandlerFunc(itemsHandler.GetHistory)))

	// Buckets.
	mux.Handle("GET /api/buckets/available", authMW(http.HandlerFunc(custodyHandler.Available)))
	mux.Handle("GET /api/buckets/custody", authMW(http.HandlerFunc(custodyHandler.InCustody)))

	// Custody events. Instructors act on their own custody only.
	mux.Handle("POST /api/checkout", authMW(http.HandlerFunc(custodyHandler.Checkout)))
	mux.Handle("POST /api/issue", authMW(requireSupervisor(http.HandlerFunc(custodyHandler.Issue))))
	mux.Handle("POST /api/items/{id}/return-request", authMW(http.HandlerFunc(custodyHandler.RequestReturn)))
	mux.Handle("POST /api/items/{id}/approve", authMW(requireSupervisor(http.HandlerFunc(custodyHandler.ApproveReturn))))
	mux.Handle("POST /api/items/{id}/reject", authMW(requireSupervisor(http.HandlerFunc(custodyHandler.RejectReturn))))
	mux.Handle("POST /api/returns/request", authMW(http.HandlerFunc(custodyHandler.RequestReturnBatch)))
	mux.Handle("POST /api/returns/approve", authMW(requireSupervisor(http.HandlerFunc(custodyHandler.ApproveReturnBatch))))

	// Reports.
	mux.Handle("GET /api/transactions", authMW(http.HandlerFunc(reportsHandler.Transactions)))
	mux.Handle("GET /api/stats", authMW(http.HandlerFunc(reportsHandler.Stats)))
	mux.Handle("GET /api/holdings", authMW(requireSupervisor(http.HandlerFunc(reportsHandler.Holdings))))

	var h http.Handler = mux
	h = LoggingMiddleware(h)
	if d.Metrics != nil {
		h = d.Metrics.Middleware(h)
	}
	return h
}

func health(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			jsonError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
