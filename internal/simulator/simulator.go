package simulator

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/thoerner/mev-bot/internal/chainclient"
	"github.com/thoerner/mev-bot/internal/mevtypes"
)

const defaultBundleGasPriceGwei = 25

// Simulator owns the sandbox subprocess exclusively. One instance
// processes bundles strictly one at a time.
type Simulator struct {
	real    *chainclient.Client
	sandbox *Sandbox
	builder *BundleBuilder
	log     zerolog.Logger

	sandboxClient *ethclient.Client
	testKey       *ecdsa.PrivateKey
	testAddr      common.Address
	forkBlock     uint64
	forkURL       string
	fundWei       *big.Int

	fastMode bool
}

// Options configure one Simulator instance.
type Options struct {
	Sandbox  SandboxConfig
	ForkURL  string
	TestKey  *ecdsa.PrivateKey
	FundWei  *big.Int
	FastMode bool
}

// New constructs a Simulator. The sandbox subprocess is not started until
// Start.
func New(real *chainclient.Client, opts Options, log zerolog.Logger) (*Simulator, error) {
	builder, err := NewBundleBuilder()
	if err != nil {
		return nil, err
	}
	return &Simulator{
		real:     real,
		sandbox:  NewSandbox(opts.Sandbox, log),
		builder:  builder,
		log:      log.With().Str("component", "simulator").Logger(),
		testKey:  opts.TestKey,
		testAddr: crypto.PubkeyToAddress(opts.TestKey.PublicKey),
		forkURL:  opts.ForkURL,
		fundWei:  opts.FundWei,
		fastMode: opts.FastMode,
	}, nil
}

// Start fetches the real chain's head block, launches the sandbox pinned
// to head-2, and dials the sandbox's own ethclient.
func (sim *Simulator) Start(ctx context.Context) error {
	head, err := sim.real.BlockNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch head block")
	}
	sim.forkBlock = safeSub(head, 2)

	if err := sim.sandbox.Start(ctx, sim.forkBlock); err != nil {
		return errors.Wrap(err, "start sandbox") // fatal to this stage only
	}

	client, err := ethclient.DialContext(ctx, sim.sandbox.Endpoint())
	if err != nil {
		return errors.Wrap(err, "dial sandbox")
	}
	sim.sandboxClient = client

	return sim.sandbox.SetBalance(ctx, sim.testAddr.Hex(), sim.fundWei)
}

// Stop tears down the sandbox subprocess.
func (sim *Simulator) Stop() {
	if sim.sandboxClient != nil {
		sim.sandboxClient.Close()
	}
	sim.sandbox.Stop()
}

// Reset repins the sandbox to a fresh fork and re-funds the test account,
// required between simulations to avoid cross-bundle state pollution.
func (sim *Simulator) Reset(ctx context.Context) error {
	if err := sim.sandbox.Reset(ctx, sim.forkURL, sim.forkBlock); err != nil {
		return errors.Wrap(err, "sandbox reset")
	}
	return sim.sandbox.SetBalance(ctx, sim.testAddr.Hex(), sim.fundWei)
}

// Build constructs the cross-venue cycle bundle for a native-wrapped
// tokenA opportunity.
func (sim *Simulator) Build(p CrossVenueParams, now time.Time) (mevtypes.Bundle, error) {
	p.Self = sim.testAddr
	return sim.builder.BuildCrossVenueCycle(p, now)
}

// Run replays bundle against the sandbox and reports the result within
// the soft simulation timeout budget (recorded, not enforced).
// Transactions inside one bundle are replayed strictly sequentially.
func (sim *Simulator) Run(ctx context.Context, bundle mevtypes.Bundle) mevtypes.SimulationResult {
	start := time.Now()
	sim.log.Debug().Str("bundle_id", bundle.ID).Int("legs", len(bundle.Txs)).Msg("replaying bundle")

	nonce, err := sim.sandboxClient.PendingNonceAt(ctx, sim.testAddr)
	if err != nil {
		return failureResult(err, start)
	}

	chainID, err := sim.sandboxClient.ChainID(ctx)
	if err != nil {
		return failureResult(err, start)
	}

	gasPrice := sim.bundleGasPrice(ctx)

	var initialBalance *big.Int
	if !sim.fastMode {
		initialBalance, err = sim.sandboxClient.BalanceAt(ctx, sim.testAddr, nil)
		if err != nil {
			return failureResult(err, start)
		}
	}

	var totalGasUsed uint64
	var totalGasCost = new(big.Int)
	var totalValue = new(big.Int)

	for i, txReq := range bundle.Txs {
		tx := types.NewTx(&types.LegacyTx{
			Nonce:    nonce + uint64(i),
			To:       &txReq.To,
			Value:    txReq.Value,
			Gas:      txReq.GasLimit,
			GasPrice: gasPrice,
			Data:     txReq.Data,
		})

		signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), sim.testKey)
		if err != nil {
			return partialResult(err, totalGasUsed, totalGasCost, totalValue, start)
		}

		if err := sim.sandboxClient.SendTransaction(ctx, signed); err != nil {
			return partialResult(err, totalGasUsed, totalGasCost, totalValue, start)
		}

		receipt, err := waitReceipt(ctx, sim.sandboxClient, signed.Hash())
		if err != nil {
			return partialResult(err, totalGasUsed, totalGasCost, totalValue, start)
		}
		if receipt == nil {
			return partialResult(errors.New("missing receipt"), totalGasUsed, totalGasCost, totalValue, start)
		}
		if receipt.Status == types.ReceiptStatusFailed {
			return partialResult(errors.New("receipt status 0 (reverted)"), totalGasUsed+receipt.GasUsed, addGasCost(totalGasCost, receipt.GasUsed, gasPrice), addValue(totalValue, txReq.Value), start)
		}

		totalGasUsed += receipt.GasUsed
		totalGasCost = addGasCost(totalGasCost, receipt.GasUsed, gasPrice)
		totalValue = addValue(totalValue, txReq.Value)
	}

	elapsed := time.Since(start)

	var profit *big.Int
	if sim.fastMode {
		profit = fastModeProfit(bundle.ExpectedProfit, totalGasCost, totalValue)
	} else {
		time.Sleep(100 * time.Millisecond)
		finalBalance, err := sim.sandboxClient.BalanceAt(ctx, sim.testAddr, nil)
		if err != nil {
			return failureResult(err, start)
		}
		profit = new(big.Int).Sub(finalBalance, initialBalance)
	}

	return mevtypes.SimulationResult{
		Success:   true,
		GasUsed:   totalGasUsed,
		Profit:    profit,
		ElapsedMS: elapsed.Milliseconds(),
	}
}

// fastModeProfit nets a bundle's pre-computed expected profit against the
// gas cost and value actually spent, skipping the real-balance-delta
// lookup the non-fast path does.
func fastModeProfit(expectedProfit, gasCost, value *big.Int) *big.Int {
	profit := new(big.Int).Sub(expectedProfit, gasCost)
	return profit.Sub(profit, value)
}

func (sim *Simulator) bundleGasPrice(ctx context.Context) *big.Int {
	if price, err := sim.sandboxClient.SuggestGasPrice(ctx); err == nil && price != nil && price.Sign() > 0 {
		return price
	}
	return gweiToWei(defaultBundleGasPriceGwei)
}

func waitReceipt(ctx context.Context, client *ethclient.Client, hash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		r, err := client.TransactionReceipt(ctx, hash)
		if err == nil {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil, nil
}

func failureResult(err error, start time.Time) mevtypes.SimulationResult {
	return mevtypes.SimulationResult{Success: false, Err: err.Error(), ElapsedMS: time.Since(start).Milliseconds()}
}

func partialResult(err error, gasUsed uint64, gasCost, value *big.Int, start time.Time) mevtypes.SimulationResult {
	return mevtypes.SimulationResult{
		Success:   false,
		GasUsed:   gasUsed,
		Err:       err.Error(),
		ElapsedMS: time.Since(start).Milliseconds(),
	}
}

func addGasCost(total *big.Int, gasUsed uint64, gasPrice *big.Int) *big.Int {
	cost := new(big.Int).Mul(big.NewInt(int64(gasUsed)), gasPrice)
	return new(big.Int).Add(total, cost)
}

func addValue(total *big.Int, value *big.Int) *big.Int {
	if value == nil {
		return total
	}
	return new(big.Int).Add(total, value)
}

func gweiToWei(gwei int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(gwei), big.NewInt(1_000_000_000))
}

func safeSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}
