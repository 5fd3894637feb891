package main

import (
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/examcraft/backend/internal/auth"
	"github.com/examcraft/backend/internal/costs"
	"github.com/examcraft/backend/internal/database"
	"github.com/examcraft/backend/internal/generator"
	"github.com/examcraft/backend/internal/knowledge"
	"github.com/examcraft/backend/internal/llm"
	"github.com/examcraft/backend/internal/middleware"
	"github.com/examcraft/backend/internal/paper"
	"github.com/examcraft/backend/internal/proofread"
)

func main() {
	// Initialize database
	db, err := database.Connect()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Each pipeline stage gets its own client so the models can be tuned
	// independently: proofreading defaults to a cheaper model.
	analysisClient, analysisModel := llm.NewFromEnv("ANALYSIS_MODEL", "claude-sonnet-4-20250514")
	generationClient, generationModel := llm.NewFromEnv("GENERATION_MODEL", "claude-sonnet-4-20250514")
	proofreadClient, proofreadModel := llm.NewFromEnv("PROOFREAD_MODEL", "claude-3-5-haiku-20241022")

	ledger := costs.NewLedger(db)

	knowledgeStore := knowledge.NewStore(db)
	knowledgeService := knowledge.NewService(knowledgeStore, analysisClient, analysisModel, ledger)

	gen := generator.NewGenerator(generationClient, generationModel)
	proofreader := proofread.NewRunner(proofreadClient, proofreadModel, ledger)

	paperStore := paper.NewStore(db)
	paperService := paper.NewService(paperStore, knowledgeService, gen, proofreader, ledger, generationModel)

	// Initialize handlers
	authHandler := auth.NewHandler(db)
	knowledgeHandler := knowledge.NewHandler(knowledgeService, knowledgeStore)
	paperHandler := paper.NewHandler(paperService)
	costsHandler := costs.NewHandler(ledger)

	// Setup router
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	// Public routes
	api.HandleFunc("/auth/register", authHandler.Register).Methods("POST")
	api.HandleFunc("/auth/login", authHandler.Login).Methods("POST")

	// Protected routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware)
	protected.HandleFunc("/auth/me", authHandler.GetCurrentUser).Methods("GET")

	// Materials and chapter knowledge
	protected.HandleFunc("/materials", knowledgeHandler.UploadMaterial).Methods("POST")
	protected.HandleFunc("/materials/{id}/reanalyze", knowledgeHandler.ReanalyzeMaterial).Methods("POST")
	protected.HandleFunc("/chapters/{id}/knowledge", knowledgeHandler.GetChapterKnowledge).Methods("GET")
	protected.HandleFunc("/chapters/{id}/materials", knowledgeHandler.ListMaterials).Methods("GET")

	// Papers
	protected.HandleFunc("/papers", paperHandler.CreatePaper).Methods("POST")
	protected.HandleFunc("/papers", paperHandler.ListPapers).Methods("GET")
	protected.HandleFunc("/papers/{id}", paperHandler.GetPaper).Methods("GET")
	protected.HandleFunc("/papers/{id}/finalize", paperHandler.FinalizePaper).Methods("POST")

	// Sections
	protected.HandleFunc("/sections/{id}/chapters", paperHandler.AssignChapters).Methods("PUT")
	protected.HandleFunc("/sections/{id}/generate", paperHandler.GenerateSection).Methods("POST")
	protected.HandleFunc("/sections/{id}/questions", paperHandler.ListQuestions).Methods("GET")
	protected.HandleFunc("/sections/{id}/questions/{question_id}/select", paperHandler.SelectQuestion).Methods("PUT")
	protected.HandleFunc("/sections/{id}/finalize", paperHandler.FinalizeSection).Methods("POST")
	protected.HandleFunc("/sections/{id}/proofread", paperHandler.GetProofreadRecord).Methods("GET")

	// Usage and costs
	protected.HandleFunc("/usage/summary", costsHandler.GetSummary).Methods("GET")
	protected.HandleFunc("/usage/records", costsHandler.ListRecords).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	handler := c.Handler(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on :%s", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
