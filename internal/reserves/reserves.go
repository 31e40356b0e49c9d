// Package reserves implements the Reserve View: pair discovery via venue
// factories, periodic reserve refresh, and price derivation with decimal
// adjustment. Factory/pair/router eth_call encoding uses the same
// accounts/abi.Pack pattern any ERC20 view-method call uses, generalized to
// the three-function constant-product ABI (getPair, getReserves,
// token0/token1).
package reserves

import (
	"context"
	"encoding/json"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/thoerner/mev-bot/internal/cacheclient"
	"github.com/thoerner/mev-bot/internal/chainclient"
	"github.com/thoerner/mev-bot/internal/mevtypes"
)

const (
	RefreshInterval = 5 * time.Second
	reservesTTL     = 60 * time.Second
)

const factoryPairABI = `[
	{"name":"getPair","type":"function","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"outputs":[{"name":"pair","type":"address"}]},
	{"name":"getReserves","type":"function","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
	{"name":"token0","type":"function","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"name":"token1","type":"function","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

// TokenInfo carries the decimals a price derivation needs.
type TokenInfo struct {
	Decimals int
}

// View maintains the live, cached {venue, tokenA, tokenB} -> reserves
// table. It exclusively owns the pair descriptors and reserves map; the
// Detector only ever reads a snapshot.
type View struct {
	chain  *chainclient.Client
	cache  *cacheclient.Client
	log    zerolog.Logger
	tokens map[common.Address]TokenInfo
	native common.Address

	abiParsed abi.ABI

	mu          sync.RWMutex
	descriptors []mevtypes.PairDescriptor
	current     map[string]mevtypes.Reserves // keyed by PairDescriptor.Key()
}

// New parses the factory/pair ABI once and builds an empty View.
func New(chain *chainclient.Client, cache *cacheclient.Client, tokens map[common.Address]TokenInfo, native common.Address, log zerolog.Logger) (*View, error) {
	parsed, err := abi.JSON(strings.NewReader(factoryPairABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse factory/pair abi")
	}
	return &View{
		chain:     chain,
		cache:     cache,
		log:       log.With().Str("component", "reserves").Logger(),
		tokens:    tokens,
		native:    native,
		abiParsed: parsed,
		current:   make(map[string]mevtypes.Reserves),
	}, nil
}

// VenueRef names a venue's factory for discovery.
type VenueRef struct {
	Name    string
	Factory common.Address
}

// PairRef names the two tokens a configured pair spans.
type PairRef struct {
	TokenA common.Address
	TokenB common.Address
}

// Discover runs pair discovery once at startup across every configured
// venue and pair. Failures are logged and the pair/venue combination is
// skipped, never fatal.
func (v *View) Discover(ctx context.Context, venues []VenueRef, pairs []PairRef) {
	var found []mevtypes.PairDescriptor

	for _, pr := range pairs {
		for _, ven := range venues {
			desc, err := v.discoverOne(ctx, ven, pr)
			if err != nil {
				v.log.Info().Err(err).Str("venue", ven.Name).
					Str("tokenA", pr.TokenA.Hex()).Str("tokenB", pr.TokenB.Hex()).
					Msg("pair discovery skipped")
				continue
			}
			if desc == nil {
				continue // factory returned the zero address
			}
			found = append(found, *desc)
		}
	}

	v.mu.Lock()
	v.descriptors = found
	v.mu.Unlock()

	for _, d := range found {
		if r, err := v.fetchReserves(ctx, d); err == nil {
			v.store(d, r)
		}
	}
}

func (v *View) discoverOne(ctx context.Context, ven VenueRef, pr PairRef) (*mevtypes.PairDescriptor, error) {
	data, err := v.abiParsed.Pack("getPair", pr.TokenA, pr.TokenB)
	if err != nil {
		return nil, errors.Wrap(err, "pack getPair")
	}
	out, err := v.chain.CallContract(ctx, ven.Factory, data)
	if err != nil {
		return nil, errors.Wrap(err, "call getPair")
	}
	res, err := v.abiParsed.Unpack("getPair", out)
	if err != nil {
		return nil, errors.Wrap(err, "unpack getPair")
	}
	pairAddr, ok := res[0].(common.Address)
	if !ok || pairAddr == (common.Address{}) {
		return nil, nil // zero address: no descriptor created
	}

	token0, err := v.callAddress(ctx, pairAddr, "token0")
	if err != nil {
		return nil, errors.Wrap(err, "call token0")
	}
	token1, err := v.callAddress(ctx, pairAddr, "token1")
	if err != nil {
		return nil, errors.Wrap(err, "call token1")
	}

	return &mevtypes.PairDescriptor{
		Venue:  ven.Name,
		Pair:   pairAddr,
		Token0: token0,
		Token1: token1,
		TokenA: pr.TokenA,
		TokenB: pr.TokenB,
	}, nil
}

func (v *View) callAddress(ctx context.Context, to common.Address, method string) (common.Address, error) {
	data, err := v.abiParsed.Pack(method)
	if err != nil {
		return common.Address{}, err
	}
	out, err := v.chain.CallContract(ctx, to, data)
	if err != nil {
		return common.Address{}, err
	}
	res, err := v.abiParsed.Unpack(method, out)
	if err != nil {
		return common.Address{}, err
	}
	addr, _ := res[0].(common.Address)
	return addr, nil
}

func (v *View) fetchReserves(ctx context.Context, d mevtypes.PairDescriptor) (mevtypes.Reserves, error) {
	data, err := v.abiParsed.Pack("getReserves")
	if err != nil {
		return mevtypes.Reserves{}, err
	}
	out, err := v.chain.CallContract(ctx, d.Pair, data)
	if err != nil {
		return mevtypes.Reserves{}, err
	}
	res, err := v.abiParsed.Unpack("getReserves", out)
	if err != nil {
		return mevtypes.Reserves{}, err
	}
	r0, _ := res[0].(*big.Int)
	r1, _ := res[1].(*big.Int)

	block, err := v.chain.BlockNumber(ctx)
	if err != nil {
		return mevtypes.Reserves{}, err
	}

	return mevtypes.Reserves{
		Descriptor:  d,
		Reserve0:    r0,
		Reserve1:    r1,
		BlockNumber: block,
		FetchedAt:   time.Now(),
	}, nil
}

func (v *View) store(d mevtypes.PairDescriptor, r mevtypes.Reserves) {
	key := d.Key()

	v.mu.Lock()
	prev, had := v.current[key]
	v.current[key] = r // atomic replace: readers never see a half-updated record
	v.mu.Unlock()

	if had && r.BlockNumber < prev.BlockNumber {
		v.log.Warn().Str("pair", key).Uint64("prevBlock", prev.BlockNumber).
			Uint64("newBlock", r.BlockNumber).Msg("reserves refresh observed a lower block number (possible reorg)")
	}
}

// RefreshOnce fetches fresh reserves for every discovered descriptor in
// parallel and atomically replaces each record. Best-effort mirrors each
// record to the Cache.
func (v *View) RefreshOnce(ctx context.Context) {
	v.mu.RLock()
	descs := append([]mevtypes.PairDescriptor(nil), v.descriptors...)
	v.mu.RUnlock()

	var wg sync.WaitGroup
	for _, d := range descs {
		d := d
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := v.fetchReserves(ctx, d)
			if err != nil {
				v.log.Error().Err(err).Str("pair", d.Key()).Msg("refresh failed")
				return
			}
			v.store(d, r)
			v.mirrorToCache(ctx, r)
		}()
	}
	wg.Wait()
}

func (v *View) mirrorToCache(ctx context.Context, r mevtypes.Reserves) {
	body, err := marshalReserves(r)
	if err != nil {
		return
	}
	key := "reserves:" + r.Descriptor.Venue + "-" + r.Descriptor.TokenA.Hex() + "-" + r.Descriptor.TokenB.Hex()
	v.cache.SetWithTTL(ctx, key, body, reservesTTL)
}

// RunRefreshLoop ticks RefreshOnce every RefreshInterval until ctx is
// cancelled.
func (v *View) RunRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.RefreshOnce(ctx)
		}
	}
}

// Snapshot returns the reserves known for venue/tokenA/tokenB pairs. The
// map is copied under the read lock; callers then read their shallow copy
// without holding any lock, accepting that it may be up to one refresh
// stale.
func (v *View) Snapshot() map[string]mevtypes.Reserves {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]mevtypes.Reserves, len(v.current))
	for k, r := range v.current {
		out[k] = r
	}
	return out
}

// Price derives the mid-price of tokenB per tokenA from reserves. ok is
// false when the pair doesn't match either reserve direction or a reserve
// is zero.
func Price(r mevtypes.Reserves, tokenA, tokenB common.Address, decimalsA, decimalsB int) (price float64, ok bool) {
	var rIn, rOut *big.Int
	switch {
	case r.Descriptor.Token0 == tokenA && r.Descriptor.Token1 == tokenB:
		rIn, rOut = r.Reserve0, r.Reserve1
	case r.Descriptor.Token0 == tokenB && r.Descriptor.Token1 == tokenA:
		rIn, rOut = r.Reserve1, r.Reserve0
	default:
		return 0, false
	}
	if rIn == nil || rOut == nil || rIn.Sign() == 0 || rOut.Sign() == 0 {
		return 0, false
	}

	rInF := new(big.Float).SetInt(rIn)
	rOutF := new(big.Float).SetInt(rOut)
	ratio, _ := new(big.Float).Quo(rOutF, rInF).Float64()

	return ratio * math.Pow(10, float64(decimalsA-decimalsB)), true
}

// MaxTradeHeuristic bins a trade size as a percentage of the pool's
// reserves, shrinking the fraction as the pool gets bigger to avoid
// outsized price impact. reserveA is the human-unit float reserve of
// tokenA on the side being sized;
// isNative marks whether tokenA is the native wrapped token (lowering the
// upper clamp from 1000 to 10 human units).
func MaxTradeHeuristic(reserveA float64, isNative bool) float64 {
	var pct float64
	switch {
	case reserveA >= 1000:
		pct = 0.02
	case reserveA >= 100:
		pct = 0.05
	default:
		pct = 0.10
	}

	upper := 1000.0
	if isNative {
		upper = 10.0
	}

	result := reserveA * pct
	if result <= 0 {
		return 0 // disables the pair
	}
	if result < 0.001 {
		result = 0.001
	}
	if result > upper {
		result = upper
	}
	return result
}

func marshalReserves(r mevtypes.Reserves) (string, error) {
	type wire struct {
		Venue       string `json:"venue"`
		TokenA      string `json:"tokenA"`
		TokenB      string `json:"tokenB"`
		Reserve0    string `json:"reserve0"`
		Reserve1    string `json:"reserve1"`
		BlockNumber uint64 `json:"blockNumber"`
	}
	w := wire{
		Venue:       r.Descriptor.Venue,
		TokenA:      r.Descriptor.TokenA.Hex(),
		TokenB:      r.Descriptor.TokenB.Hex(),
		BlockNumber: r.BlockNumber,
	}
	if r.Reserve0 != nil {
		w.Reserve0 = r.Reserve0.String()
	}
	if r.Reserve1 != nil {
		w.Reserve1 = r.Reserve1.String()
	}
	b, err := json.Marshal(w)
	return string(b), err
}
