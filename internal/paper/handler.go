package paper

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/examcraft/backend/internal/models"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// getIdentity extracts the authenticated user and institute from the request
// context.
func getIdentity(r *http.Request) (userID, instituteID int64, ok bool) {
	userID, uok := r.Context().Value("user_id").(int64)
	instituteID, iok := r.Context().Value("institute_id").(int64)
	return userID, instituteID, uok && iok
}

func (h *Handler) CreatePaper(w http.ResponseWriter, r *http.Request) {
	userID, instituteID, ok := getIdentity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	var req models.CreatePaperRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	paper, err := h.service.CreatePaper(r.Context(), instituteID, userID, req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, paper)
}

func (h *Handler) ListPapers(w http.ResponseWriter, r *http.Request) {
	_, instituteID, ok := getIdentity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	papers, err := h.service.ListPapers(instituteID)
	if err != nil {
		log.Printf("[handler] ListPapers error: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list papers"})
		return
	}
	if papers == nil {
		papers = []models.Paper{}
	}
	writeJSON(w, http.StatusOK, papers)
}

func (h *Handler) GetPaper(w http.ResponseWriter, r *http.Request) {
	_, instituteID, ok := getIdentity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}
	paperID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid paper ID"})
		return
	}

	paper, err := h.service.GetPaper(paperID, instituteID)
	if err != nil {
		writeServiceError(w, err, "GetPaper")
		return
	}
	writeJSON(w, http.StatusOK, paper)
}

func (h *Handler) FinalizePaper(w http.ResponseWriter, r *http.Request) {
	_, instituteID, ok := getIdentity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}
	paperID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid paper ID"})
		return
	}

	resp, err := h.service.FinalizePaper(r.Context(), paperID, instituteID)
	if err != nil {
		writeServiceError(w, err, "FinalizePaper")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ── Section Handlers ────────────────────────────────────

func (h *Handler) AssignChapters(w http.ResponseWriter, r *http.Request) {
	_, instituteID, ok := getIdentity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}
	sectionID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid section ID"})
		return
	}

	var req models.AssignChaptersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if len(req.ChapterIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "chapter_ids is required"})
		return
	}

	section, err := h.service.AssignChapters(r.Context(), sectionID, instituteID, req.ChapterIDs)
	if err != nil {
		writeServiceError(w, err, "AssignChapters")
		return
	}
	writeJSON(w, http.StatusOK, section)
}

func (h *Handler) GenerateSection(w http.ResponseWriter, r *http.Request) {
	_, instituteID, ok := getIdentity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}
	sectionID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid section ID"})
		return
	}

	resp, err := h.service.GenerateSection(r.Context(), sectionID, instituteID)
	if err != nil {
		writeServiceError(w, err, "GenerateSection")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	_, instituteID, ok := getIdentity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}
	sectionID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid section ID"})
		return
	}

	questions, err := h.service.ListQuestions(sectionID, instituteID)
	if err != nil {
		writeServiceError(w, err, "ListQuestions")
		return
	}
	if questions == nil {
		questions = []*models.Question{}
	}
	writeJSON(w, http.StatusOK, questions)
}

func (h *Handler) SelectQuestion(w http.ResponseWriter, r *http.Request) {
	_, instituteID, ok := getIdentity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}
	sectionID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid section ID"})
		return
	}
	questionID, ok := pathID(r, "question_id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid question ID"})
		return
	}

	var req models.SelectQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if err := h.service.SelectQuestion(sectionID, questionID, instituteID, req.IsSelected); err != nil {
		writeServiceError(w, err, "SelectQuestion")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_selected": req.IsSelected})
}

func (h *Handler) FinalizeSection(w http.ResponseWriter, r *http.Request) {
	_, instituteID, ok := getIdentity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}
	sectionID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid section ID"})
		return
	}

	section, err := h.service.FinalizeSection(sectionID, instituteID)
	if err != nil {
		writeServiceError(w, err, "FinalizeSection")
		return
	}
	writeJSON(w, http.StatusOK, section)
}

func (h *Handler) GetProofreadRecord(w http.ResponseWriter, r *http.Request) {
	_, instituteID, ok := getIdentity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}
	sectionID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid section ID"})
		return
	}

	record, err := h.service.GetProofreadRecord(sectionID, instituteID)
	if err != nil {
		writeServiceError(w, err, "GetProofreadRecord")
		return
	}
	if record == nil {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Section has not been proofread"})
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// ── Helpers ─────────────────────────────────────────────

func writeServiceError(w http.ResponseWriter, err error, op string) {
	var pe *PreconditionError
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Not found"})
	case errors.As(err, &pe):
		writeJSON(w, http.StatusConflict, models.ErrorResponse{Error: pe.Error()})
	default:
		log.Printf("[handler] %s error: %v", op, err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Internal error"})
	}
}

func pathID(r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[key], 10, 64)
	return id, err == nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
