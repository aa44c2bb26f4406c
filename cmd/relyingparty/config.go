package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-jose/go-jose/v4"
	"github.com/italia/spid-cie-oidc-go/pkg/rp"
	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Address    string `yaml:"address"`
	ClientID   string `yaml:"client_id"`
	ClientName string `yaml:"client_name"`

	TrustAnchors      []string            `yaml:"trust_anchors"`
	IdentityProviders map[string][]string `yaml:"identity_providers"`
	RedirectURIs      []string            `yaml:"redirect_uris"`

	// JWKSPath points at the JSON file holding the relying party key pair.
	// A fresh pair is generated there on first run.
	JWKSPath       string `yaml:"jwks_path"`
	TrustMarksPath string `yaml:"trust_marks_path"`

	AuditLogPath string `yaml:"audit_log_path"`
	MongoDBURI   string `yaml:"mongodb_uri"`
}

func loadConfig(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, err
	}

	config := fileConfig{
		Address:      ":3000",
		AuditLogPath: "audit.log",
		JWKSPath:     "jwks.json",
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fileConfig{}, fmt.Errorf("could not parse %s: %w", path, err)
	}
	return config, nil
}

func (c fileConfig) identityProviders() map[rp.Profile][]string {
	providers := make(map[rp.Profile][]string, len(c.IdentityProviders))
	for profile, urls := range c.IdentityProviders {
		providers[rp.Profile(profile)] = urls
	}
	return providers
}

type jwksFile struct {
	Public  jose.JSONWebKeySet `json:"public_jwks"`
	Private jose.JSONWebKeySet `json:"private_jwks"`
}

// loadOrGenerateJWKS reads the relying party key pair from path, generating
// and persisting a fresh one when the file does not exist yet.
func loadOrGenerateJWKS(path string) (jwksFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		public, private, err := rp.GenerateJWKS()
		if err != nil {
			return jwksFile{}, err
		}
		jwks := jwksFile{Public: public, Private: private}

		data, err := json.MarshalIndent(jwks, "", "  ")
		if err != nil {
			return jwksFile{}, err
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return jwksFile{}, err
		}
		return jwks, nil
	}
	if err != nil {
		return jwksFile{}, err
	}

	var jwks jwksFile
	if err := json.Unmarshal(data, &jwks); err != nil {
		return jwksFile{}, fmt.Errorf("could not parse %s: %w", path, err)
	}
	return jwks, nil
}

// loadTrustMarks returns no trust marks when the file does not exist, the
// relying party can run before onboarding completes.
func loadTrustMarks(path string) ([]rp.TrustMark, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var trustMarks []rp.TrustMark
	if err := json.Unmarshal(data, &trustMarks); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", path, err)
	}
	return trustMarks, nil
}
