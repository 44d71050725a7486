package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/viney-shih/goroutines"
	"golang.org/x/sync/errgroup"

	"github.com/activity-scorer/internal/adapter"
	"github.com/activity-scorer/internal/circuitbreaker"
	apperrors "github.com/activity-scorer/internal/errors"
	"github.com/activity-scorer/internal/logging"
	"github.com/activity-scorer/internal/storage"
	"github.com/activity-scorer/internal/types"
)

// BonusResolverConfig configures the external bonus resolver
type BonusResolverConfig struct {
	TrackedCollections []string // empty means every collection counts; the featured one always does
	FeaturedCollection string
	CacheTTL           time.Duration
	CacheSizeMB        int
	LookupTimeout      time.Duration
	BulkBatchSize      int
	BulkBatchDelay     time.Duration
	Clock              storage.Clock // cache clock, nil for wall time
	Now                func() time.Time
}

// DefaultBonusResolverConfig returns the reference resolver settings
func DefaultBonusResolverConfig() BonusResolverConfig {
	return BonusResolverConfig{
		CacheTTL:       5 * time.Minute,
		CacheSizeMB:    16,
		LookupTimeout:  5 * time.Second,
		BulkBatchSize:  10,
		BulkBatchDelay: 100 * time.Millisecond,
	}
}

// BonusResolver resolves ExternalBonusData for an address. The three lookups
// run concurrently and each one degrades to its zero value on failure.
type BonusResolver struct {
	domains adapter.DomainResolver
	social  adapter.SocialResolver
	nfts    adapter.NFTSource

	domainBreaker *circuitbreaker.CircuitBreaker
	socialBreaker *circuitbreaker.CircuitBreaker
	nftBreaker    *circuitbreaker.CircuitBreaker

	cache    *storage.TTLCache
	tracked  map[string]struct{}
	featured string
	cfg      BonusResolverConfig
	now      func() time.Time
}

// NewBonusResolver creates a resolver. Any source may be nil, in which case
// its flag is always false.
func NewBonusResolver(
	domains adapter.DomainResolver,
	social adapter.SocialResolver,
	nfts adapter.NFTSource,
	cfg BonusResolverConfig,
) *BonusResolver {
	defaults := DefaultBonusResolverConfig()
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaults.CacheTTL
	}
	if cfg.CacheSizeMB <= 0 {
		cfg.CacheSizeMB = defaults.CacheSizeMB
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaults.LookupTimeout
	}
	if cfg.BulkBatchSize <= 0 {
		cfg.BulkBatchSize = defaults.BulkBatchSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	tracked := make(map[string]struct{}, len(cfg.TrackedCollections))
	for _, c := range cfg.TrackedCollections {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			tracked[c] = struct{}{}
		}
	}

	featured := strings.ToLower(strings.TrimSpace(cfg.FeaturedCollection))
	if featured != "" && len(tracked) > 0 {
		tracked[featured] = struct{}{}
	}

	return &BonusResolver{
		domains:       domains,
		social:        social,
		nfts:          nfts,
		domainBreaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("domain")),
		socialBreaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("farcaster")),
		nftBreaker:    circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("nft")),
		cache:         storage.NewTTLCache(cfg.CacheSizeMB, cfg.CacheTTL, cfg.Clock),
		tracked:       tracked,
		featured:      featured,
		cfg:           cfg,
		now:           now,
	}
}

func bonusCacheKey(address string) string {
	return "bonus:" + address
}

// Resolve returns bonus data for one address. Only an invalid address is an
// error; lookup failures only clear their flag.
func (r *BonusResolver) Resolve(ctx context.Context, address string) (*types.ExternalBonusData, error) {
	normalized, err := adapter.NormalizeAddress(address)
	if err != nil {
		return nil, apperrors.NewInvalidAddressError(address)
	}

	var cached types.ExternalBonusData
	if err := r.cache.Get(bonusCacheKey(normalized), &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, storage.ErrCacheMiss) {
		logging.FromContext(ctx).WithError(err).Warn("Bonus cache read failed")
	}

	data := r.lookup(ctx, normalized)

	if err := r.cache.Set(bonusCacheKey(normalized), data); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Bonus cache write failed")
	}
	return data, nil
}

func (r *BonusResolver) lookup(ctx context.Context, address string) *types.ExternalBonusData {
	logger := logging.FromContext(ctx).WithField("address", address)

	var (
		domainName string
		profile    *adapter.SocialProfile
		holdings   []types.NFTHolding
	)

	var g errgroup.Group
	if r.domains != nil {
		g.Go(func() error {
			err := r.guarded(ctx, r.domainBreaker, func(lctx context.Context) error {
				name, err := r.domains.ReverseResolve(lctx, address)
				domainName = name
				return err
			})
			if err != nil {
				domainName = ""
				logger.WithError(err).Warn("Domain lookup failed")
			}
			return nil
		})
	}
	if r.social != nil {
		g.Go(func() error {
			err := r.guarded(ctx, r.socialBreaker, func(lctx context.Context) error {
				p, err := r.social.LookupByAddress(lctx, address)
				profile = p
				return err
			})
			if err != nil {
				profile = nil
				logger.WithError(err).Warn("Social identity lookup failed")
			}
			return nil
		})
	}
	if r.nfts != nil {
		g.Go(func() error {
			err := r.guarded(ctx, r.nftBreaker, func(lctx context.Context) error {
				h, err := r.nfts.FetchNFTHoldings(lctx, address)
				holdings = h
				return err
			})
			if err != nil {
				holdings = nil
				logger.WithError(err).Warn("NFT holdings lookup failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	data := &types.ExternalBonusData{
		Address:      address,
		NFTContracts: r.trackedContracts(holdings),
		FetchedAt:    r.now().Unix(),
	}
	if domainName != "" {
		data.HasMegaDomain = true
		data.DomainName = domainName
	}
	if profile != nil {
		data.HasFarcaster = true
		data.FarcasterName = profile.Username
	}
	data.HoldsAnyNFT = len(data.NFTContracts) > 0
	if r.featured != "" {
		for _, c := range data.NFTContracts {
			if c == r.featured {
				data.HoldsFeaturedNFT = true
				break
			}
		}
	}
	return data
}

func (r *BonusResolver) guarded(ctx context.Context, cb *circuitbreaker.CircuitBreaker, fn func(context.Context) error) error {
	lctx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()
	return cb.Execute(lctx, func() error { return fn(lctx) })
}

// trackedContracts returns the distinct tracked collections, sorted
func (r *BonusResolver) trackedContracts(holdings []types.NFTHolding) []string {
	seen := make(map[string]struct{})
	for _, h := range holdings {
		c := strings.ToLower(h.Collection)
		if c == "" {
			continue
		}
		if len(r.tracked) > 0 {
			if _, ok := r.tracked[c]; !ok {
				continue
			}
		}
		seen[c] = struct{}{}
	}

	contracts := make([]string, 0, len(seen))
	for c := range seen {
		contracts = append(contracts, c)
	}
	sort.Strings(contracts)
	return contracts
}

// ResolveBulk resolves many addresses in fixed-size concurrent batches with a
// pause between batches. Duplicates collapse; any invalid address fails the
// whole call before any lookup starts.
func (r *BonusResolver) ResolveBulk(ctx context.Context, addresses []string) (map[string]*types.ExternalBonusData, error) {
	unique := make([]string, 0, len(addresses))
	seen := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		normalized, err := adapter.NormalizeAddress(a)
		if err != nil {
			return nil, apperrors.NewInvalidAddressError(a)
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		unique = append(unique, normalized)
	}

	results := make(map[string]*types.ExternalBonusData, len(unique))
	for start := 0; start < len(unique); start += r.cfg.BulkBatchSize {
		if start > 0 && r.cfg.BulkBatchDelay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(r.cfg.BulkBatchDelay):
			}
		}

		end := start + r.cfg.BulkBatchSize
		if end > len(unique) {
			end = len(unique)
		}
		r.resolveBatch(ctx, unique[start:end], results)
	}
	return results, nil
}

func (r *BonusResolver) resolveBatch(ctx context.Context, chunk []string, results map[string]*types.ExternalBonusData) {
	b := goroutines.NewBatch(len(chunk), goroutines.WithBatchSize(len(chunk)))
	defer b.Close()

	for _, address := range chunk {
		addr := address
		b.Queue(func() (interface{}, error) {
			return r.Resolve(ctx, addr)
		})
	}
	b.QueueComplete()

	for ret := range b.Results() {
		if ret.Error() != nil {
			logging.FromContext(ctx).WithError(ret.Error()).Warn("Bulk bonus resolution failed")
			continue
		}
		data := ret.Value().(*types.ExternalBonusData)
		results[data.Address] = data
	}
}
