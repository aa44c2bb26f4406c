// Command relyingparty runs a demo SPID/CIE relying party. It serves the
// federation well-known document, a provider picker backend, the
// authorization redirect, the provider callback and token revocation.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/italia/spid-cie-oidc-go/pkg/relyingparty"
	"github.com/italia/spid-cie-oidc-go/pkg/rp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "relyingparty.yml", "path to the configuration file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err.Error())
	}
	defer logger.Sync()

	if err := run(*configPath, logger); err != nil {
		logger.Fatal("relying party stopped", zap.Error(err))
	}
}

func run(configPath string, logger *zap.Logger) error {
	config, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	jwks, err := loadOrGenerateJWKS(config.JWKSPath)
	if err != nil {
		return err
	}
	trustMarks, err := loadTrustMarks(config.TrustMarksPath)
	if err != nil {
		return err
	}
	auditLogger, err := newAuditLogger(config.AuditLogPath)
	if err != nil {
		return err
	}

	rpConfig := rp.Configuration{
		ClientID:          config.ClientID,
		ClientName:        config.ClientName,
		TrustAnchors:      config.TrustAnchors,
		IdentityProviders: config.identityProviders(),
		RedirectURIs:      config.RedirectURIs,
		TrustMarks:        trustMarks,
		PublicJWKS:        jwks.Public,
		PrivateJWKS:       jwks.Private,
		Logger:            logger,
		AuditLogger:       auditLogger,
	}

	if config.MongoDBURI != "" {
		client, err := mongo.Connect(context.Background(),
			options.Client().ApplyURI(config.MongoDBURI))
		if err != nil {
			return err
		}
		defer client.Disconnect(context.Background())
		rpConfig.Storage = relyingparty.NewMongoDBStorage(client.Database("relying_party"))
	}

	relyingParty, err := relyingparty.New(rpConfig)
	if err != nil {
		return err
	}

	server := &server{
		relyingParty: relyingParty,
		logger:       logger,
		sessions:     map[string]relyingparty.CallbackResult{},
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/.well-known/openid-federation", server.entityConfiguration)
	router.Get("/oidc/rp/providers", server.providers)
	router.Get("/oidc/rp/authorization", server.authorization)
	router.Get("/oidc/rp/callback", server.callback)
	router.Post("/oidc/rp/revocation", server.revocation)
	router.Handle("/metrics", promhttp.Handler())

	logger.Info("relying party listening",
		zap.String("address", config.Address), zap.String("client_id", config.ClientID))
	return http.ListenAndServe(config.Address, router)
}

// newAuditLogger returns a sink that appends one JSON record per line to
// path. Audit records must be kept for the federation's retention period, so
// they never share the operational log file.
func newAuditLogger(path string) (rp.AuditLogger, error) {
	auditConfig := zap.NewProductionConfig()
	auditConfig.OutputPaths = []string{path}
	sink, err := auditConfig.Build(zap.WithCaller(false))
	if err != nil {
		return nil, err
	}
	return func(record any) {
		sink.Info("audit", zap.Any("record", record))
	}, nil
}

type server struct {
	relyingParty relyingparty.RelyingParty
	logger       *zap.Logger

	// sessions maps the session cookie to the user's authentication result,
	// enough for a demo; a real deployment brings its own session layer.
	mu       sync.Mutex
	sessions map[string]relyingparty.CallbackResult
}

const sessionCookie = "rp_session"

func (s *server) entityConfiguration(w http.ResponseWriter, r *http.Request) {
	jws, err := s.relyingParty.EntityConfiguration(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", relyingparty.EntityStatementContentType)
	_, _ = w.Write([]byte(jws))
}

func (s *server) providers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.relyingParty.AvailableProviders(r.Context()))
}

func (s *server) authorization(w http.ResponseWriter, r *http.Request) {
	redirectURL, err := s.relyingParty.AuthorizationURL(r.Context(), r.URL.Query().Get("provider"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	http.Redirect(w, r, redirectURL, http.StatusSeeOther)
}

func (s *server) callback(w http.ResponseWriter, r *http.Request) {
	result, err := s.relyingParty.Callback(r.Context(), r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if result.ProviderError != "" {
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":             result.ProviderError,
			"error_description": result.ProviderErrorDescription,
		})
		return
	}

	sessionID := uuid.NewString()
	s.mu.Lock()
	s.sessions[sessionID] = result
	s.mu.Unlock()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sessionID,
		HttpOnly: true,
		Secure:   true,
	})

	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_identifier": result.UserIdentifier,
		"user_info":       result.UserInfo,
	})
}

func (s *server) revocation(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "no session"})
		return
	}

	s.mu.Lock()
	result, ok := s.sessions[cookie.Value]
	delete(s.sessions, cookie.Value)
	s.mu.Unlock()
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "no session"})
		return
	}

	if err := s.relyingParty.Revoke(r.Context(), result.Tokens); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	var rpErr rp.Error
	status := http.StatusInternalServerError
	switch rp.CodeOf(err) {
	case rp.ErrorCodeInvalidProvider, rp.ErrorCodeInvalidCallbackRequest:
		status = http.StatusBadRequest
	case rp.ErrorCodeAuthnRequestNotFound:
		status = http.StatusNotFound
	case rp.ErrorCodeProviderUntrusted:
		status = http.StatusBadGateway
	}

	s.logger.Error("request failed", zap.Error(err))
	if errors.As(err, &rpErr) {
		s.writeJSON(w, status, rpErr)
		return
	}
	s.writeJSON(w, status, map[string]string{"error": "internal_error"})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
