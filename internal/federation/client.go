package federation

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/italia/spid-cie-oidc-go/internal/jwtutil"
	"github.com/italia/spid-cie-oidc-go/internal/oidc"
	"github.com/italia/spid-cie-oidc-go/pkg/rp"
	"go.uber.org/zap"
)

// fetchEntityConfiguration fetches and verifies an entity's self issued
// configuration. The statement is self signed, so key discovery has to
// precede trust: the verification keys are the jwks embedded in the decoded,
// not yet verified payload. Trust in those keys is only established later,
// when a superior's statement about this entity is verified.
func fetchEntityConfiguration(ctx oidc.Context, entityID string, role EntityRole) (EntityConfiguration, error) {
	signed, err := fetchSignedStatement(ctx, entityID+wellKnownPath)
	if err != nil {
		return EntityConfiguration{}, rp.WrapError(rp.ErrorCodeFetchFailed,
			"could not fetch the entity configuration for "+entityID, err)
	}

	decoded, err := jwtutil.DecodeUnverified(signed)
	if err != nil {
		return EntityConfiguration{}, rp.WrapError(rp.ErrorCodeEntityStatementRejected,
			"could not decode the entity configuration for "+entityID, err)
	}

	var embedded struct {
		JWKS jose.JSONWebKeySet `json:"jwks"`
	}
	if err := json.Unmarshal(decoded, &embedded); err != nil {
		return EntityConfiguration{}, rp.WrapError(rp.ErrorCodeEntityStatementRejected,
			"could not decode the entity configuration jwks for "+entityID, err)
	}

	payload, err := jwtutil.Verify(signed, jwtutil.KeyFuncForSet(embedded.JWKS))
	if err != nil {
		return EntityConfiguration{}, rp.WrapError(rp.ErrorCodeEntityStatementRejected,
			"invalid entity configuration signature for "+entityID, err)
	}

	return parseEntityConfiguration(payload, entityID, role)
}

// fetchEntityStatement fetches the statement a superior issued about a
// descendant and verifies it with the superior's own published keys. This is
// the trust establishing step: the descendant did not sign this statement
// about itself.
func fetchEntityStatement(ctx oidc.Context, descendant, superior EntityConfiguration) (EntityStatement, error) {
	endpoint := superior.federationFetchEndpoint()

	uri, err := url.Parse(endpoint)
	if err != nil {
		return EntityStatement{}, rp.WrapError(rp.ErrorCodeEntityStatementRejected,
			"invalid federation fetch endpoint "+endpoint, err)
	}
	params := uri.Query()
	params.Set("sub", descendant.Subject)
	uri.RawQuery = params.Encode()

	signed, err := fetchSignedStatement(ctx, uri.String())
	if err != nil {
		return EntityStatement{}, rp.WrapError(rp.ErrorCodeFetchFailed,
			fmt.Sprintf("could not fetch the entity statement for %s from %s", descendant.Subject, endpoint), err)
	}

	payload, err := jwtutil.Verify(signed, jwtutil.KeyFuncForSet(superior.JWKS))
	if err != nil {
		return EntityStatement{}, rp.WrapError(rp.ErrorCodeEntityStatementRejected,
			fmt.Sprintf("invalid entity statement signature for %s issued by %s", descendant.Subject, superior.Subject), err)
	}

	var statement EntityStatement
	if err := json.Unmarshal(payload, &statement); err != nil {
		return EntityStatement{}, rp.WrapError(rp.ErrorCodeEntityStatementRejected,
			"could not decode the entity statement for "+descendant.Subject, err)
	}

	if statement.Issuer != superior.Subject || statement.Subject != descendant.Subject {
		return EntityStatement{}, rp.NewError(rp.ErrorCodeEntityStatementRejected,
			fmt.Sprintf("entity statement iss %q sub %q do not match superior %q and descendant %q",
				statement.Issuer, statement.Subject, superior.Subject, descendant.Subject))
	}

	ctx.Logger().Debug("entity statement verified",
		zap.String("sub", statement.Subject),
		zap.String("iss", statement.Issuer),
	)
	return statement, nil
}

func fetchSignedStatement(ctx oidc.Context, uri string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", err
	}

	resp, err := ctx.HTTPClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("could not fetch the entity statement: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching the entity statement resulted in status %d", resp.StatusCode)
	}

	if contentType := resp.Header.Get("Content-Type"); !strings.HasPrefix(contentType, entityStatementContentType) {
		return "", fmt.Errorf("fetching the entity statement resulted in invalid content type %q", contentType)
	}

	signed, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("could not read the entity statement: %w", err)
	}

	return string(signed), nil
}
