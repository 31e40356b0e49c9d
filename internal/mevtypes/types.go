// Package mevtypes holds the shared data model used across the mempool
// ingestor, reserve view, arbitrage detector and bundle simulator.
package mevtypes

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Token is an immutable piece of configuration: one ERC20 (or the native
// wrapped asset) the pipeline is allowed to reason about.
type Token struct {
	Address  common.Address
	Decimals int
	Symbol   string
}

// Venue is an immutable constant-product AMM deployment.
type Venue struct {
	Name    string
	Factory common.Address
	Router  common.Address
}

// PairDescriptor is discovered once at startup and never mutated after.
type PairDescriptor struct {
	Venue   string
	Pair    common.Address
	Token0  common.Address
	Token1  common.Address
	TokenA  common.Address
	TokenB  common.Address
}

// Key returns the stable identity of the descriptor's venue/pair.
func (d PairDescriptor) Key() string {
	return d.Venue + "-" + d.TokenA.Hex() + "-" + d.TokenB.Hex()
}

// Reserves is a point-in-time snapshot of a pair's liquidity.
//
// Invariant: Reserve0 > 0 iff Reserve1 > 0.
type Reserves struct {
	Descriptor  PairDescriptor
	Reserve0    *big.Int
	Reserve1    *big.Int
	BlockNumber uint64
	FetchedAt   time.Time
}

// Empty reports whether the pool holds no liquidity.
func (r Reserves) Empty() bool {
	return r.Reserve0 == nil || r.Reserve1 == nil || r.Reserve0.Sign() == 0
}

// DecodedSwap is present only when calldata was recognized as a swap call
// against a known router.
type DecodedSwap struct {
	Router      common.Address
	Selector    string
	IsSwap      bool
	TokenIn     common.Address
	TokenOut    common.Address
	AmountIn    *big.Int
	AmountOut   *big.Int
	Path        []common.Address
}

// PendingTx is an enriched mempool transaction, written once and never
// mutated.
type PendingTx struct {
	Hash          common.Hash
	From          common.Address
	To            *common.Address
	Value         *big.Int
	Gas           uint64
	GasPrice      *big.Int
	GasFeeCap     *big.Int
	GasTipCap     *big.Int
	Nonce         uint64
	Data          []byte
	IngestedAt    time.Time
	BlockNumber   *uint64
	Swap          *DecodedSwap
}

// Opportunity is a candidate cross-venue arbitrage trade.
//
// Invariant: BuyPrice <= SellPrice, MinTrade <= MaxTrade, both trade bounds
// positive.
type Opportunity struct {
	TokenA        common.Address
	TokenB        common.Address
	BuyVenue      string
	SellVenue     string
	BuyPrice      float64
	SellPrice     float64
	GapAbs        float64
	ProfitPercent float64
	GasEstimate   uint64
	MinTrade      float64
	MaxTrade      float64
	DiscoveredAt  time.Time
}

// StableKey identifies the {tokenA, tokenB, buyVenue, sellVenue} combination
// an opportunity belongs to, independent of its price or profit figures, so
// the detector can track publication hysteresis across updates.
func (o Opportunity) StableKey() string {
	return "opportunity:" + o.TokenA.Hex() + "-" + o.TokenB.Hex() + "-" + o.BuyVenue + "-" + o.SellVenue
}

// TxRequest is one leg of a bundle.
type TxRequest struct {
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
}

// Bundle is an ordered, nonce-consecutive sequence of transaction
// requests simulated as a unit.
type Bundle struct {
	ID             string // uuid, assigned at construction and logged with each replay; the audit sink does not store it
	Txs            []TxRequest
	ExpectedProfit *big.Int
	Description    string
}

// SimulationResult reports the outcome of replaying a Bundle in the
// sandbox.
type SimulationResult struct {
	Success     bool
	GasUsed     uint64
	Profit      *big.Int
	Err         string
	ElapsedMS   int64
}
