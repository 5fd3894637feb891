package costs

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strconv"

	"github.com/examcraft/backend/internal/models"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

func getInstituteID(r *http.Request) (int64, bool) {
	id, ok := r.Context().Value("institute_id").(int64)
	return id, ok
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	instituteID, ok := getInstituteID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	summary, err := h.ledger.Summary(instituteID)
	if err != nil {
		log.Printf("[handler] GetSummary error: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to get usage summary"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	instituteID, ok := getInstituteID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	query := r.URL.Query()
	limit := intQueryParam(query, "limit", 50)
	offset := intQueryParam(query, "offset", 0)

	records, err := h.ledger.ListRecords(instituteID, limit, offset)
	if err != nil {
		log.Printf("[handler] ListRecords error: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list usage records"})
		return
	}
	if records == nil {
		records = []models.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func intQueryParam(query url.Values, key string, defaultVal int) int {
	s := query.Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
