package routes

import (
	"fmt"
	"net/http"

	sharedAuth "github.com/forgebuild/forgebuild/backend/internal/auth"
	"github.com/forgebuild/forgebuild/backend/internal/config"
	"github.com/forgebuild/forgebuild/backend/internal/db"
	"github.com/forgebuild/forgebuild/backend/internal/handlers/auth"
	"github.com/forgebuild/forgebuild/backend/internal/handlers/user"
	"github.com/forgebuild/forgebuild/backend/internal/middleware"
	"github.com/forgebuild/forgebuild/backend/internal/repository"
	"github.com/forgebuild/forgebuild/backend/internal/sso"
	"github.com/forgebuild/forgebuild/backend/pkg/debug"
	"github.com/gorilla/mux"
)

// SetupSAMLRoutes configures the SAML SP authentication routes
func SetupSAMLRoutes(router *mux.Router, cfg *config.Config, database *db.DB) error {
	debug.Debug("Setting up SAML routes")

	sessions, err := sharedAuth.NewSessionManager()
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	userRepo := repository.NewUserRepository(database)
	identityRepo := repository.NewIdentityRepository(database)
	attemptRepo := repository.NewLoginAttemptRepository(database)
	provisioner := sso.NewProvisioner(userRepo, identityRepo)

	handler := auth.NewSAMLHandler(cfg, provisioner, sessions, userRepo, attemptRepo)

	router.HandleFunc("/auth/saml/login", handler.HandleLogin).Methods("GET")
	router.HandleFunc("/auth/saml/acs", handler.HandleACS).Methods("POST")
	router.HandleFunc("/auth/saml/metadata", handler.HandleMetadata).Methods("GET")
	debug.Info("Configured SAML endpoints: GET /auth/saml/login, POST /auth/saml/acs, GET /auth/saml/metadata")

	sessionHandler := user.NewSessionHandler(userRepo)
	router.Handle("/api/session", middleware.RequireAuth(http.HandlerFunc(sessionHandler.HandleCurrent))).Methods("GET")
	debug.Info("Configured session endpoint: GET /api/session")

	return nil
}
