package knowledge

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/examcraft/backend/internal/models"
)

type Handler struct {
	service *Service
	store   *Store
}

func NewHandler(service *Service, store *Store) *Handler {
	return &Handler{service: service, store: store}
}

func getIdentity(r *http.Request) (userID, instituteID int64, ok bool) {
	userID, uok := r.Context().Value("user_id").(int64)
	instituteID, iok := r.Context().Value("institute_id").(int64)
	return userID, instituteID, uok && iok
}

// UploadMaterial accepts a material, analyzes it, and merges the analysis
// into the chapter knowledge cache. Responds 201 even when analysis fails —
// the material is saved and the failure is on the knowledge row.
func (h *Handler) UploadMaterial(w http.ResponseWriter, r *http.Request) {
	userID, instituteID, ok := getIdentity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	var req models.UploadMaterialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.ChapterID <= 0 || req.Title == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "chapter_id, title, and content are required"})
		return
	}

	resp, err := h.service.UploadMaterial(r.Context(), instituteID, userID, req)
	if err != nil {
		log.Printf("[handler] UploadMaterial error: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to upload material"})
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) GetChapterKnowledge(w http.ResponseWriter, r *http.Request) {
	_, instituteID, ok := getIdentity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}
	chapterID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid chapter ID"})
		return
	}

	knowledge, err := h.service.GetChapterKnowledge(chapterID, instituteID)
	if err != nil {
		log.Printf("[handler] GetChapterKnowledge error: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to get chapter knowledge"})
		return
	}
	if knowledge == nil {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "No materials uploaded for this chapter"})
		return
	}
	writeJSON(w, http.StatusOK, knowledge)
}

func (h *Handler) ListMaterials(w http.ResponseWriter, r *http.Request) {
	_, instituteID, ok := getIdentity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}
	chapterID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid chapter ID"})
		return
	}

	materials, err := h.store.ListMaterials(chapterID, instituteID)
	if err != nil {
		log.Printf("[handler] ListMaterials error: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list materials"})
		return
	}
	if materials == nil {
		materials = []models.Material{}
	}
	writeJSON(w, http.StatusOK, materials)
}

// ReanalyzeMaterial re-runs analysis for an already-uploaded material, used
// after a failed attempt.
func (h *Handler) ReanalyzeMaterial(w http.ResponseWriter, r *http.Request) {
	_, instituteID, ok := getIdentity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}
	materialID, ok := pathID(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid material ID"})
		return
	}

	material, err := h.store.GetMaterial(materialID, instituteID)
	if err != nil {
		log.Printf("[handler] ReanalyzeMaterial error: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to load material"})
		return
	}
	if material == nil {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Material not found"})
		return
	}

	knowledge, err := h.service.AnalyzeMaterial(r.Context(), instituteID, material)
	if err != nil {
		log.Printf("[handler] ReanalyzeMaterial analysis error: %v", err)
		writeJSON(w, http.StatusBadGateway, models.ErrorResponse{Error: "Analysis failed: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, knowledge)
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
