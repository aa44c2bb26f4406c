package federation

import (
	"github.com/go-jose/go-jose/v4"
	"github.com/italia/spid-cie-oidc-go/internal/jwtutil"
	"github.com/italia/spid-cie-oidc-go/internal/oidc"
	"github.com/italia/spid-cie-oidc-go/internal/timeutil"
)

// NewRelyingPartyStatement builds and signs the relying party's own entity
// configuration, served at its .well-known/openid-federation location and
// consumed by the trust anchor during onboarding and chain resolution.
func NewRelyingPartyStatement(ctx oidc.Context) (string, error) {
	cfg := ctx.Config
	now := timeutil.TimestampNow()

	config := EntityConfiguration{
		Issuer:         cfg.ClientID,
		Subject:        cfg.ClientID,
		IssuedAt:       now,
		ExpiresAt:      now + cfg.FederationDefaultExpSecs,
		JWKS:           cfg.PublicJWKS,
		TrustMarks:     cfg.TrustMarks,
		AuthorityHints: cfg.TrustAnchors,
		Metadata: map[string]any{
			"openid_relying_party": map[string]any{
				"client_name":               cfg.ClientName,
				"client_id":                 cfg.ClientID,
				"application_type":          cfg.ApplicationType,
				"subject_type":              "pairwise",
				"jwks":                      cfg.PublicJWKS,
				"grant_types":               []string{"authorization_code", "refresh_token"},
				"response_types":            cfg.ResponseTypes,
				"redirect_uris":             cfg.RedirectURIs,
				"client_registration_types": []string{"automatic"},
			},
		},
	}

	opts := (&jose.SignerOptions{}).WithType(entityStatementJWTType)
	return jwtutil.SignWithOptions(config, ctx.SignerJWK(), opts)
}

// ContentType is the media type entity statements are served with.
const ContentType = entityStatementContentType
