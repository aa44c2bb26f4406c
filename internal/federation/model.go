package federation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/italia/spid-cie-oidc-go/pkg/rp"
)

const (
	wellKnownPath = ".well-known/openid-federation"

	entityStatementContentType = "application/entity-statement+jwt"
	entityStatementJWTType     = "entity-statement+jwt"
)

// EntityRole selects which of the three entity configuration variants a
// fetched statement must conform to.
type EntityRole int

const (
	RoleRelyingParty EntityRole = iota
	RoleProvider
	RoleTrustAnchor
)

func (r EntityRole) String() string {
	switch r {
	case RoleRelyingParty:
		return "openid_relying_party"
	case RoleProvider:
		return "openid_provider"
	default:
		return "federation_entity"
	}
}

// EntityConfiguration is a statement an entity issues about itself,
// published at its .well-known/openid-federation location.
type EntityConfiguration struct {
	Issuer            string              `json:"iss"`
	Subject           string              `json:"sub"`
	IssuedAt          int                 `json:"iat"`
	ExpiresAt         int                 `json:"exp"`
	JWKS              jose.JSONWebKeySet  `json:"jwks"`
	Metadata          map[string]any      `json:"metadata"`
	TrustMarks        []rp.TrustMark      `json:"trust_marks,omitempty"`
	AuthorityHints    []string            `json:"authority_hints,omitempty"`
	TrustMarksIssuers map[string][]string `json:"trust_marks_issuers,omitempty"`
	Constraints       *Constraints        `json:"constraints,omitempty"`
}

type Constraints struct {
	MaxPathLength int `json:"max_path_length"`
}

// EntityStatement is a statement a superior issues about an immediate
// subordinate. It is signed with the superior's keys, never the
// subordinate's.
type EntityStatement struct {
	Issuer         string             `json:"iss"`
	Subject        string             `json:"sub"`
	IssuedAt       int                `json:"iat"`
	ExpiresAt      int                `json:"exp"`
	JWKS           jose.JSONWebKeySet `json:"jwks"`
	MetadataPolicy MetadataPolicy     `json:"metadata_policy,omitempty"`
	TrustMarks     []rp.TrustMark     `json:"trust_marks,omitempty"`
}

// TrustChain is a verified, policy applied description of an identity
// provider, valid until ExpiresAt.
type TrustChain struct {
	ExpiresAt           int
	EntityConfiguration EntityConfiguration
}

// ProviderMetadata is the typed view of the openid_provider metadata section
// the authentication flow needs.
type ProviderMetadata struct {
	AuthorizationEndpoint string             `json:"authorization_endpoint"`
	TokenEndpoint         string             `json:"token_endpoint"`
	UserInfoEndpoint      string             `json:"userinfo_endpoint"`
	RevocationEndpoint    string             `json:"revocation_endpoint"`
	OrganizationName      string             `json:"organization_name"`
	LogoURI               string             `json:"logo_uri"`
	JWKS                  jose.JSONWebKeySet `json:"jwks"`
}

// OpenIDProvider extracts the provider metadata section.
func (c EntityConfiguration) OpenIDProvider() (ProviderMetadata, error) {
	section, ok := c.Metadata["openid_provider"]
	if !ok {
		return ProviderMetadata{}, rp.NewError(rp.ErrorCodeMalformedEntityConfig,
			"the entity configuration has no openid_provider metadata")
	}

	raw, err := json.Marshal(section)
	if err != nil {
		return ProviderMetadata{}, err
	}

	var meta ProviderMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ProviderMetadata{}, rp.WrapError(rp.ErrorCodeMalformedEntityConfig,
			"invalid openid_provider metadata", err)
	}
	return meta, nil
}

func (c EntityConfiguration) federationFetchEndpoint() string {
	section, ok := c.Metadata["federation_entity"].(map[string]any)
	if !ok {
		return ""
	}
	endpoint, _ := section["federation_fetch_endpoint"].(string)
	return endpoint
}

func parseEntityConfiguration(payload []byte, entityID string, role EntityRole) (EntityConfiguration, error) {
	var config EntityConfiguration
	if err := json.Unmarshal(payload, &config); err != nil {
		return EntityConfiguration{}, rp.WrapError(rp.ErrorCodeMalformedEntityConfig,
			"could not decode the entity configuration for "+entityID, err)
	}

	if err := config.validate(entityID, role); err != nil {
		return EntityConfiguration{}, err
	}
	return config, nil
}

// validate checks the shape an entity configuration must have for its role
// and reports every missing field at once.
func (c EntityConfiguration) validate(entityID string, role EntityRole) error {
	var missing []string

	if c.Issuer == "" {
		missing = append(missing, "iss")
	}
	if c.Subject == "" {
		missing = append(missing, "sub")
	}
	if c.IssuedAt == 0 {
		missing = append(missing, "iat")
	}
	if c.ExpiresAt == 0 {
		missing = append(missing, "exp")
	}
	if len(c.JWKS.Keys) == 0 {
		missing = append(missing, "jwks")
	}

	switch role {
	case RoleRelyingParty, RoleProvider:
		if _, ok := c.Metadata[role.String()].(map[string]any); !ok {
			missing = append(missing, "metadata."+role.String())
		}
		if len(c.AuthorityHints) == 0 {
			missing = append(missing, "authority_hints")
		}
	case RoleTrustAnchor:
		if c.federationFetchEndpoint() == "" {
			missing = append(missing, "metadata.federation_entity.federation_fetch_endpoint")
		}
	}

	if len(missing) != 0 {
		return rp.NewError(rp.ErrorCodeMalformedEntityConfig,
			fmt.Sprintf("malformed entity configuration for %s, missing fields: %s",
				entityID, strings.Join(missing, ", ")))
	}

	if c.Issuer != c.Subject || c.Subject != entityID {
		return rp.NewError(rp.ErrorCodeMalformedEntityConfig,
			fmt.Sprintf("entity configuration iss %q and sub %q must both equal %q",
				c.Issuer, c.Subject, entityID))
	}

	return nil
}
