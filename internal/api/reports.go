package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/erazemk/makhzan/internal/custody"
	"github.com/erazemk/makhzan/internal/model"
	"github.com/erazemk/makhzan/internal/store"
)

// maxTransactionLimit caps ?limit= on the transaction listing.
const maxTransactionLimit = 1000

// ReportsHandler serves read-only summaries.
type ReportsHandler struct {
	DB      *sql.DB
	Custody *custody.Service
}

// Transactions handles GET /api/transactions. Filters: item, instructor,
// type (comma separated), activity=1 for checkouts and returns only, and
// limit. Instructors only see their own entries.
func (h *ReportsHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.TransactionFilter{
		ItemID:         q.Get("item"),
		InstructorName: q.Get("instructor"),
	}

	if q.Get("activity") == "1" {
		f.Types = []model.TransactionType{model.TransactionCheckout, model.TransactionReturn}
	} else if types := q.Get("type"); types != "" {
		for _, t := range strings.Split(types, ",") {
			tt := model.TransactionType(strings.TrimSpace(t))
			if !tt.Valid() {
				jsonError(w, http.StatusBadRequest, "invalid transaction type")
				return
			}
			f.Types = append(f.Types, tt)
		}
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxTransactionLimit {
			jsonError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	claims := GetClaims(r.Context())
	if !isSupervisor(claims) {
		f.InstructorName = claims.Name
	}

	txns, err := store.ListTransactions(r.Context(), h.DB, f)
	if err != nil {
		slog.Error("failed to list transactions", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(txns))
}

// Stats handles GET /api/stats.
func (h *ReportsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Custody.Stats(r.Context())
	if err != nil {
		custodyError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, stats)
}

// Holdings handles GET /api/holdings: unit counts per holder and kind.
func (h *ReportsHandler) Holdings(w http.ResponseWriter, r *http.Request) {
	holdings, err := store.ListHoldings(r.Context(), h.DB)
	if err != nil {
		slog.Error("failed to list holdings", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list holdings")
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(holdings))
}
