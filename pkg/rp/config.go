package rp

import (
	"net/http"

	"github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"
)

// Configuration is the full set of relying party settings. Mandatory fields
// are ClientID, ClientName, TrustAnchors and IdentityProviders; everything
// else receives a default when the relying party is created.
type Configuration struct {
	// ClientID is the URL that identifies this relying party. The relying
	// party must be reachable on it from the outside.
	ClientID string
	// ClientName is the human readable name of this application.
	ClientName string
	// TrustAnchors are the URLs of the federation roots this relying party
	// trusts, e.g. https://registry.spid.gov.it/.
	TrustAnchors []string
	// IdentityProviders lists the provider URLs per federation profile.
	IdentityProviders map[Profile][]string
	// RedirectURIs are the URLs the user browser may be redirected back to.
	// The first one is used for the callback endpoint.
	RedirectURIs []string
	// TrustMarks are obtained during onboarding.
	TrustMarks []TrustMark

	// PublicJWKS and PrivateJWKS are the relying party key material used for
	// federation onboarding and provider communication. Every key must carry
	// a kid and the two sets must match pairwise.
	PublicJWKS  jose.JSONWebKeySet
	PrivateJWKS jose.JSONWebKeySet

	ApplicationType string
	ResponseTypes   []string
	Scopes          []string
	// Providers holds acr_values and requested claims per profile.
	Providers map[Profile]ProviderProfile
	// FederationDefaultExpSecs is the lifetime of self issued statements.
	FederationDefaultExpSecs int

	// Storage keeps pending authentication requests between redirect and
	// callback. Defaults to an in-memory store.
	Storage AuthnRequestStorage
	// Logger receives operational events. Defaults to zap.NewNop().
	Logger *zap.Logger
	// AuditLogger receives token material that must be retained for the
	// federation's regulatory period.
	AuditLogger AuditLogger
	// HTTPClient performs all outbound requests. The default enforces a
	// bounded timeout and TLS certificate verification.
	HTTPClient *http.Client
	// DeriveUserIdentifier maps verified claims to a stable local user
	// identifier. Defaults to the fiscal number claim.
	DeriveUserIdentifier func(UserInfo) string
}
