// Package detector implements the Arbitrage Detector: pairwise venue
// comparison, gas-aware opportunity sizing, and stable-key publication with
// hysteresis-gated writes.
package detector

import (
	"context"
	"encoding/json"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/thoerner/mev-bot/internal/cacheclient"
	"github.com/thoerner/mev-bot/internal/mevtypes"
	"github.com/thoerner/mev-bot/internal/reserves"
)

const (
	TickInterval          = 2 * time.Second
	opportunityTTL        = 60 * time.Second
	publishProfitFloor    = 0.5  // minimum profit% to publish a new opportunity
	rejectProfitFloor     = 0.1  // below this, the gap isn't worth comparing further
	hysteresisDeltaPct    = 0.1  // minimum profit% swing to republish an already-live opportunity
	fixedGasUnits         = 300000
	fixedGasPriceGwei     = 25
	minTradeFloorPercent  = 0.01 // 1% of max-trade, a floor under the gas-derived min size
)

// TokenInfo mirrors reserves.TokenInfo plus whether the token is the
// native wrapped asset, needed to convert the gas cost estimate into
// tokenA units.
type TokenInfo struct {
	Decimals int
	IsNative bool
}

// PairSpec names a configured (tokenA, tokenB) pair to compare across
// venues.
type PairSpec struct {
	TokenA common.Address
	TokenB common.Address
}

// Detector reads the Reserve View's snapshot and publishes opportunities
// to the Cache. It never locks the reserves map itself — Snapshot already
// returns an independent copy.
type Detector struct {
	view   *reserves.View
	cache  *cacheclient.Client
	tokens map[common.Address]TokenInfo
	pairs  []PairSpec
	log    zerolog.Logger
}

// New constructs a Detector.
func New(view *reserves.View, cache *cacheclient.Client, tokens map[common.Address]TokenInfo, pairs []PairSpec, log zerolog.Logger) *Detector {
	return &Detector{
		view:   view,
		cache:  cache,
		tokens: tokens,
		pairs:  pairs,
		log:    log.With().Str("component", "detector").Logger(),
	}
}

// RunLoop ticks Tick every TickInterval until ctx is cancelled.
func (d *Detector) RunLoop(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick performs one full scan across every configured pair.
func (d *Detector) Tick(ctx context.Context) {
	snapshot := d.view.Snapshot()

	for _, pr := range d.pairs {
		records := d.recordsFor(snapshot, pr)
		for i := 0; i < len(records); i++ {
			for j := i + 1; j < len(records); j++ {
				opp, ok := d.compare(pr, records[i], records[j])
				if !ok {
					continue
				}
				d.publish(ctx, opp)
			}
		}
	}
}

type venueReserves struct {
	venue string
	r     mevtypes.Reserves
}

func (d *Detector) recordsFor(snapshot map[string]mevtypes.Reserves, pr PairSpec) []venueReserves {
	var out []venueReserves
	for _, r := range snapshot {
		if r.Descriptor.TokenA == pr.TokenA && r.Descriptor.TokenB == pr.TokenB && !r.Empty() {
			out = append(out, venueReserves{venue: r.Descriptor.Venue, r: r})
		}
	}
	return out
}

// compare derives each venue's mid-price for one unordered venue pair,
// sizes the trade against both pools' liquidity, and returns the
// resulting candidate Opportunity (ok is false when no profitable gap
// clears the reject floor).
func (d *Detector) compare(pr PairSpec, a, b venueReserves) (mevtypes.Opportunity, bool) {
	infoA, okA := d.tokens[pr.TokenA]
	infoB, okB := d.tokens[pr.TokenB]
	if !okA || !okB {
		return mevtypes.Opportunity{}, false // configuration error: reject this opportunity lazily
	}

	priceA, ok1 := reserves.Price(a.r, pr.TokenA, pr.TokenB, infoA.Decimals, infoB.Decimals)
	priceB, ok2 := reserves.Price(b.r, pr.TokenA, pr.TokenB, infoA.Decimals, infoB.Decimals)
	if !ok1 || !ok2 || priceA == priceB {
		return mevtypes.Opportunity{}, false // equal mid-prices: no opportunity
	}

	buyVenue, sellVenue := a, b
	buyPrice, sellPrice := priceA, priceB
	if priceA > priceB {
		buyVenue, sellVenue = b, a
		buyPrice, sellPrice = priceB, priceA
	}

	gap := sellPrice - buyPrice
	profitPercent := gap / buyPrice * 100
	if profitPercent <= rejectProfitFloor {
		return mevtypes.Opportunity{}, false
	}

	profitMargin := gap / buyPrice

	gasNative := fixedGasUnits * fixedGasPriceGwei * 1e-9 // ETH/AVAX units
	var gasInTokenA float64
	if infoA.IsNative {
		gasInTokenA = gasNative
	} else {
		gasInTokenA = gasNative / buyPrice
	}

	maxTradeBuy := reserves.MaxTradeHeuristic(humanUnits(buyVenue.r, pr.TokenA, infoA.Decimals), infoA.IsNative)
	maxTradeSell := reserves.MaxTradeHeuristic(humanUnits(sellVenue.r, pr.TokenA, infoA.Decimals), infoA.IsNative)
	maxTrade := maxTradeBuy
	if maxTradeSell < maxTrade {
		maxTrade = maxTradeSell
	}
	if maxTrade <= 0 {
		return mevtypes.Opportunity{}, false
	}

	minTrade := gasInTokenA / profitMargin
	floor := maxTrade * minTradeFloorPercent
	if floor > minTrade {
		minTrade = floor
	}
	if minTrade > maxTrade {
		return mevtypes.Opportunity{}, false
	}

	return mevtypes.Opportunity{
		TokenA:        pr.TokenA,
		TokenB:        pr.TokenB,
		BuyVenue:      buyVenue.venue,
		SellVenue:     sellVenue.venue,
		BuyPrice:      buyPrice,
		SellPrice:     sellPrice,
		GapAbs:        gap,
		ProfitPercent: profitPercent,
		GasEstimate:   fixedGasUnits,
		MinTrade:      minTrade,
		MaxTrade:      maxTrade,
		DiscoveredAt:  time.Now(),
	}, true
}

// humanUnits converts the reserve of tokenA held by r into a human-unit
// float, used only for the max-trade heuristic binning.
func humanUnits(r mevtypes.Reserves, tokenA common.Address, decimalsA int) float64 {
	var amount float64
	switch {
	case r.Descriptor.Token0 == tokenA && r.Reserve0 != nil:
		amount = bigToFloat(r.Reserve0)
	case r.Descriptor.Token1 == tokenA && r.Reserve1 != nil:
		amount = bigToFloat(r.Reserve1)
	default:
		return 0
	}
	for i := 0; i < decimalsA; i++ {
		amount /= 10
	}
	return amount
}

// publish writes opp to the Cache only if it clears the minimum
// profit-percent floor and, for an opportunity already live under the
// same stable key, swings far enough to be worth republishing
// (hysteresis avoids flapping on noise-level price jitter).
func (d *Detector) publish(ctx context.Context, opp mevtypes.Opportunity) {
	if opp.ProfitPercent <= publishProfitFloor {
		return
	}

	key := opp.StableKey()
	if prevRaw, ok := d.cache.Get(ctx, key); ok {
		var prev mevtypes.Opportunity
		if err := json.Unmarshal([]byte(prevRaw), &prev); err == nil {
			delta := opp.ProfitPercent - prev.ProfitPercent
			if delta < 0 {
				delta = -delta
			}
			if delta < hysteresisDeltaPct {
				return // suppress rewrite: within hysteresis band
			}
		}
	}

	body, err := json.Marshal(opp)
	if err != nil {
		d.log.Error().Err(err).Msg("marshal opportunity failed")
		return
	}
	d.cache.SetWithTTL(ctx, key, string(body), opportunityTTL)
}

// GetCurrentOpportunities scans the opportunity keyspace and returns the
// deserialized set sorted descending by profit-percent.
func (d *Detector) GetCurrentOpportunities(ctx context.Context) []mevtypes.Opportunity {
	keys := d.cache.KeysByPrefix(ctx, "opportunity:")
	out := make([]mevtypes.Opportunity, 0, len(keys))
	for _, k := range keys {
		raw, ok := d.cache.Get(ctx, k)
		if !ok {
			continue
		}
		var opp mevtypes.Opportunity
		if err := json.Unmarshal([]byte(raw), &opp); err != nil {
			continue
		}
		out = append(out, opp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProfitPercent > out[j].ProfitPercent })
	return out
}

func bigToFloat(x *big.Int) float64 {
	f := new(big.Float).SetInt(x)
	v, _ := f.Float64()
	return v
}
