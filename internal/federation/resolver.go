package federation

import (
	"sync"
	"time"

	"github.com/italia/spid-cie-oidc-go/internal/metrics"
	"github.com/italia/spid-cie-oidc-go/internal/oidc"
	"github.com/italia/spid-cie-oidc-go/internal/timeutil"
	"github.com/italia/spid-cie-oidc-go/pkg/rp"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Resolver resolves and verifies trust chains and caches the result per
// (relying party, identity provider, trust anchor) triple until the chain
// expires. The key space is bounded by configured anchors times configured
// providers, so entries are only ever overwritten, never evicted.
type Resolver struct {
	chains *cache.Cache
	now    func() time.Time
}

func NewResolver() *Resolver {
	return &Resolver{
		chains: cache.New(cache.NoExpiration, 10*time.Minute),
		now:    timeutil.Now,
	}
}

// Resolve returns the verified, policy applied trust chain for providerID
// under anchorID, from cache while the chain has not expired. Concurrent
// resolutions for the same triple may fetch redundantly; both converge on
// equivalent results, so the overwrite is idempotent.
func (r *Resolver) Resolve(ctx oidc.Context, relyingPartyID, providerID, anchorID string) (TrustChain, error) {
	key := relyingPartyID + " " + providerID + " " + anchorID
	if cached, ok := r.chains.Get(key); ok {
		chain := cached.(TrustChain)
		if chain.ExpiresAt > timeutil.Timestamp(r.now()) {
			return chain, nil
		}
	}

	chain, err := r.resolve(ctx, relyingPartyID, providerID, anchorID)
	if err != nil {
		metrics.TrustChainResolutions.WithLabelValues(metrics.OutcomeError).Inc()
		return TrustChain{}, rp.WrapError(rp.ErrorCodeTrustChainUnresolved,
			"could not resolve trust chain for "+providerID, err)
	}
	metrics.TrustChainResolutions.WithLabelValues(metrics.OutcomeOK).Inc()

	ttl := time.Duration(chain.ExpiresAt-timeutil.Timestamp(r.now())) * time.Second
	r.chains.Set(key, chain, ttl)

	ctx.Logger().Info("trust chain verified",
		zap.String("relying_party", relyingPartyID),
		zap.String("identity_provider", providerID),
		zap.String("trust_anchor", anchorID),
		zap.Int("exp", chain.ExpiresAt),
	)
	return chain, nil
}

// resolve walks the one-intermediate chain: the three entity configurations,
// then the two statements the anchor issued about relying party and
// provider, then the anchor's metadata policy applied to the provider's self
// declared metadata.
func (r *Resolver) resolve(ctx oidc.Context, relyingPartyID, providerID, anchorID string) (TrustChain, error) {
	relyingPartyConfig, err := fetchEntityConfiguration(ctx, relyingPartyID, RoleRelyingParty)
	if err != nil {
		return TrustChain{}, err
	}
	providerConfig, err := fetchEntityConfiguration(ctx, providerID, RoleProvider)
	if err != nil {
		return TrustChain{}, err
	}
	anchorConfig, err := fetchEntityConfiguration(ctx, anchorID, RoleTrustAnchor)
	if err != nil {
		return TrustChain{}, err
	}

	relyingPartyStatement, err := fetchEntityStatement(ctx, relyingPartyConfig, anchorConfig)
	if err != nil {
		return TrustChain{}, err
	}
	providerStatement, err := fetchEntityStatement(ctx, providerConfig, anchorConfig)
	if err != nil {
		return TrustChain{}, err
	}

	exp := min(relyingPartyStatement.ExpiresAt, providerStatement.ExpiresAt)

	providerConfig.Metadata = providerStatement.MetadataPolicy.Apply(providerConfig.Metadata)

	return TrustChain{
		ExpiresAt:           exp,
		EntityConfiguration: providerConfig,
	}, nil
}

// TrustChain tries every configured trust anchor for providerID and returns
// the first chain that resolves. Anchors that fail are logged and skipped; a
// false result means the provider is temporarily untrusted, not that the
// caller should fail.
func (r *Resolver) TrustChain(ctx oidc.Context, providerID string) (TrustChain, bool) {
	for _, anchorID := range ctx.Config.TrustAnchors {
		chain, err := r.Resolve(ctx, ctx.Config.ClientID, providerID, anchorID)
		if err != nil {
			ctx.Logger().Warn("trust chain resolution failed",
				zap.String("identity_provider", providerID),
				zap.String("trust_anchor", anchorID),
				zap.Error(err),
			)
			continue
		}
		return chain, true
	}
	return TrustChain{}, false
}

// AvailableProviders resolves every configured provider in parallel and
// returns the ones a trust chain could be established for, grouped by
// profile. A failed resolution only drops that provider from the result.
func (r *Resolver) AvailableProviders(ctx oidc.Context) map[rp.Profile][]rp.ProviderInfo {
	type result struct {
		profile rp.Profile
		info    rp.ProviderInfo
		ok      bool
	}

	var wg sync.WaitGroup
	var resultCount int
	for _, providers := range ctx.Config.IdentityProviders {
		resultCount += len(providers)
	}
	results := make(chan result, resultCount)

	for profile, providers := range ctx.Config.IdentityProviders {
		for _, providerID := range providers {
			wg.Add(1)
			go func(profile rp.Profile, providerID string) {
				defer wg.Done()

				chain, ok := r.TrustChain(ctx, providerID)
				if !ok {
					results <- result{profile: profile}
					return
				}
				meta, err := chain.EntityConfiguration.OpenIDProvider()
				if err != nil {
					ctx.Logger().Warn("invalid provider metadata",
						zap.String("identity_provider", providerID), zap.Error(err))
					results <- result{profile: profile}
					return
				}
				results <- result{
					profile: profile,
					info: rp.ProviderInfo{
						Sub:              chain.EntityConfiguration.Subject,
						OrganizationName: meta.OrganizationName,
						LogoURI:          meta.LogoURI,
					},
					ok: true,
				}
			}(profile, providerID)
		}
	}
	wg.Wait()
	close(results)

	available := make(map[rp.Profile][]rp.ProviderInfo, len(ctx.Config.IdentityProviders))
	for profile := range ctx.Config.IdentityProviders {
		available[profile] = []rp.ProviderInfo{}
	}
	for res := range results {
		if res.ok {
			available[res.profile] = append(available[res.profile], res.info)
		}
	}
	return available
}
