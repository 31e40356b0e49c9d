// Package stages wires the configuration surface into each of the three
// pipeline stages, composing dialed clients and component constructors
// behind one signal-aware run loop per stage.
package stages

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/thoerner/mev-bot/internal/audit"
	"github.com/thoerner/mev-bot/internal/cacheclient"
	"github.com/thoerner/mev-bot/internal/chainclient"
	"github.com/thoerner/mev-bot/internal/config"
	"github.com/thoerner/mev-bot/internal/detector"
	"github.com/thoerner/mev-bot/internal/ingestor"
	"github.com/thoerner/mev-bot/internal/mevtypes"
	"github.com/thoerner/mev-bot/internal/reserves"
	"github.com/thoerner/mev-bot/internal/simulator"
	"github.com/thoerner/mev-bot/internal/swapdecode"
)

// RunFunc is the shape every stage's entry point satisfies.
type RunFunc func(ctx context.Context, cfg *config.Config, log zerolog.Logger) error

// RunMempool runs the Mempool Ingestor until ctx is cancelled.
func RunMempool(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	chain, err := chainclient.Dial(ctx, cfg.Network.RPCURL, cfg.Network.WSURL, log)
	if err != nil {
		return errors.Wrap(err, "dial chain")
	}
	defer chain.Close()

	cache := cacheclient.New(cfg.CacheAddr, cfg.MEV.CacheKeyPrefix, log)
	defer cache.Close()

	decoder, err := swapdecode.New()
	if err != nil {
		return errors.Wrap(err, "build decoder")
	}

	routers := routerAddresses(cfg)

	ing := ingestor.New(chain, cache, decoder, ingestor.Config{
		Routers:    routers,
		MempoolTTL: time.Duration(cfg.MEV.MempoolTTLSeconds) * time.Second,
	}, log)

	if err := ing.Start(ctx); err != nil {
		return errors.Wrap(err, "start ingestor")
	}
	defer ing.Stop()

	log.Info().Int("routers", len(routers)).Msg("mempool ingestor running")
	<-ctx.Done()
	return nil
}

// RunArbitrage runs the Reserve View's discovery/refresh loop alongside
// the Arbitrage Detector's comparison loop until ctx is cancelled.
func RunArbitrage(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	chain, err := chainclient.Dial(ctx, cfg.Network.RPCURL, cfg.Network.WSURL, log)
	if err != nil {
		return errors.Wrap(err, "dial chain")
	}
	defer chain.Close()

	cache := cacheclient.New(cfg.CacheAddr, cfg.MEV.CacheKeyPrefix, log)
	defer cache.Close()

	native, err := nativeAddress(cfg)
	if err != nil {
		return err
	}

	reserveTokens := reserveTokenTable(cfg)

	view, err := reserves.New(chain, cache, reserveTokens, native, log)
	if err != nil {
		return errors.Wrap(err, "build reserve view")
	}

	venues := venueRefs(cfg)
	pairs, err := pairRefs(cfg)
	if err != nil {
		return err
	}

	view.Discover(ctx, venues, pairs)
	go view.RunRefreshLoop(ctx)

	detectorTokens := detectorTokenTable(cfg, native)
	detectorPairs, err := detectorPairSpecs(cfg)
	if err != nil {
		return err
	}

	det := detector.New(view, cache, detectorTokens, detectorPairs, log)

	log.Info().Int("pairs", len(detectorPairs)).Msg("arbitrage detector running")
	det.RunLoop(ctx)
	return nil
}

// RunSimulate launches the sandbox once, then polls the Cache for
// published opportunities and replays the corresponding cross-venue
// cycle, resetting the sandbox between runs.
func RunSimulate(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if cfg.Sandbox.TestKeyHex == "" {
		return errors.New("sandbox.test_key_hex is required for start-simulate")
	}

	testKey, err := crypto.HexToECDSA(trimHexPrefix(cfg.Sandbox.TestKeyHex))
	if err != nil {
		return errors.Wrap(err, "parse sandbox test key")
	}

	fundWei, ok := new(big.Int).SetString(cfg.Sandbox.FundWei, 10)
	if !ok {
		return errors.Errorf("sandbox.fund_wei %q is not a valid integer", cfg.Sandbox.FundWei)
	}

	chain, err := chainclient.Dial(ctx, cfg.Network.RPCURL, cfg.Network.WSURL, log)
	if err != nil {
		return errors.Wrap(err, "dial chain")
	}
	defer chain.Close()

	cache := cacheclient.New(cfg.CacheAddr, cfg.MEV.CacheKeyPrefix, log)
	defer cache.Close()

	auditSink, err := audit.Open(cfg.AuditDB)
	if err != nil {
		return errors.Wrap(err, "open audit sink")
	}
	defer auditSink.Close()

	sim, err := simulator.New(chain, simulator.Options{
		Sandbox: simulator.SandboxConfig{
			Binary:     cfg.Sandbox.Binary,
			ForkURL:    cfg.Network.RPCURL,
			Host:       cfg.Sandbox.Host,
			BalanceWei: cfg.Sandbox.BalanceWei,
			GasLimit:   cfg.Sandbox.GasLimit,
			GasPrice:   cfg.Sandbox.GasPrice,
			BaseFee:    cfg.Sandbox.BaseFee,
		},
		ForkURL:  cfg.Network.RPCURL,
		TestKey:  testKey,
		FundWei:  fundWei,
		FastMode: cfg.MEV.FastSimulation,
	}, log)
	if err != nil {
		return errors.Wrap(err, "build simulator")
	}

	if err := sim.Start(ctx); err != nil {
		return errors.Wrap(err, "start sandbox")
	}
	defer sim.Stop()

	routers := routerTable(cfg)
	tokenDecimals := tokenDecimalsTable(cfg)
	native, err := nativeAddress(cfg)
	if err != nil {
		return err
	}

	// GetCurrentOpportunities only reads the Cache; view/tokens/pairs are
	// unused by that one call, so a detector with no comparison state is
	// enough here.
	det := detector.New(nil, cache, nil, nil, log)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	log.Info().Msg("bundle simulator running")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, opp := range det.GetCurrentOpportunities(ctx) {
				simulateOpportunity(ctx, sim, auditSink, opp, routers, tokenDecimals, native, log)
			}
		}
	}
}

// simulateOpportunity replays one published opportunity against the
// sandbox, resetting it afterward so the next replay starts from the
// same pinned fork. Only the native-wrapped-tokenA case is buildable by
// BuildCrossVenueCycle; any other opportunity is skipped.
func simulateOpportunity(ctx context.Context, sim *simulator.Simulator, auditSink *audit.Sink, opp mevtypes.Opportunity,
	routers map[string]common.Address, decimals map[common.Address]int, native common.Address, log zerolog.Logger) {

	if opp.TokenA != native {
		return
	}
	buyRouter, ok := routers[opp.BuyVenue]
	if !ok {
		return
	}
	sellRouter, ok := routers[opp.SellVenue]
	if !ok {
		return
	}

	amountIn := humanToWei(opp.MinTrade, 18)

	bundle, err := sim.Build(simulator.CrossVenueParams{
		NativeWrapped:  native,
		TokenB:         opp.TokenB,
		BuyRouter:      buyRouter,
		SellRouter:     sellRouter,
		AmountIn:       amountIn,
		BuyPrice:       opp.BuyPrice,
		SellPrice:      opp.SellPrice,
		TokenBDecimals: decimals[opp.TokenB],
	}, opp.DiscoveredAt)
	if err != nil {
		log.Error().Err(err).Msg("bundle construction failed")
		return
	}

	result := sim.Run(ctx, bundle)
	auditSink.RecordOpportunity(opp)
	auditSink.RecordSimulation(result)

	if err := sim.Reset(ctx); err != nil {
		log.Error().Err(err).Msg("sandbox reset failed")
	}
}

func routerAddresses(cfg *config.Config) []common.Address {
	out := make([]common.Address, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		out = append(out, common.HexToAddress(v.Router))
	}
	return out
}

func routerTable(cfg *config.Config) map[string]common.Address {
	out := make(map[string]common.Address, len(cfg.Venues))
	for _, v := range cfg.Venues {
		out[v.Name] = common.HexToAddress(v.Router)
	}
	return out
}

func venueRefs(cfg *config.Config) []reserves.VenueRef {
	out := make([]reserves.VenueRef, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		out = append(out, reserves.VenueRef{Name: v.Name, Factory: common.HexToAddress(v.Factory)})
	}
	return out
}

func pairRefs(cfg *config.Config) ([]reserves.PairRef, error) {
	out := make([]reserves.PairRef, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		a, err := cfg.ResolveToken(p.TokenA)
		if err != nil {
			return nil, err
		}
		b, err := cfg.ResolveToken(p.TokenB)
		if err != nil {
			return nil, err
		}
		out = append(out, reserves.PairRef{TokenA: common.HexToAddress(a.Address), TokenB: common.HexToAddress(b.Address)})
	}
	return out, nil
}

func detectorPairSpecs(cfg *config.Config) ([]detector.PairSpec, error) {
	out := make([]detector.PairSpec, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		a, err := cfg.ResolveToken(p.TokenA)
		if err != nil {
			return nil, err
		}
		b, err := cfg.ResolveToken(p.TokenB)
		if err != nil {
			return nil, err
		}
		out = append(out, detector.PairSpec{TokenA: common.HexToAddress(a.Address), TokenB: common.HexToAddress(b.Address)})
	}
	return out, nil
}

func reserveTokenTable(cfg *config.Config) map[common.Address]reserves.TokenInfo {
	out := make(map[common.Address]reserves.TokenInfo, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		out[common.HexToAddress(t.Address)] = reserves.TokenInfo{Decimals: t.Decimals}
	}
	return out
}

func detectorTokenTable(cfg *config.Config, native common.Address) map[common.Address]detector.TokenInfo {
	out := make(map[common.Address]detector.TokenInfo, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		addr := common.HexToAddress(t.Address)
		out[addr] = detector.TokenInfo{Decimals: t.Decimals, IsNative: addr == native}
	}
	return out
}

func tokenDecimalsTable(cfg *config.Config) map[common.Address]int {
	out := make(map[common.Address]int, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		out[common.HexToAddress(t.Address)] = t.Decimals
	}
	return out
}

func nativeAddress(cfg *config.Config) (common.Address, error) {
	t, err := cfg.ResolveToken(cfg.MEV.NativeWrappedSymbol)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "resolve native wrapped token")
	}
	return common.HexToAddress(t.Address), nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// humanToWei scales a human-unit float by 10^decimals into a *big.Int,
// the inverse of the detector's humanUnits. Precision loss here mirrors the
// simulator's estimateTokenBAmount imprecision.
func humanToWei(amount float64, decimals int) *big.Int {
	scaled := amount
	for i := 0; i < decimals; i++ {
		scaled *= 10
	}
	out, _ := big.NewFloat(scaled).Int(nil)
	return out
}
