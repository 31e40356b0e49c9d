package simulator

import (
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/thoerner/mev-bot/internal/mevtypes"
)

// deadlineWindow is the swap deadline passed to every router call: far
// enough out that sandbox replay never trips it, short enough to be a
// real deadline on a live router.
const deadlineWindow = 300 * time.Second

const routerBundleABI = `[
	{"name":"swapExactAVAXForTokens","type":"function","inputs":[
		{"name":"amountOutMin","type":"uint256"},
		{"name":"path","type":"address[]"},
		{"name":"to","type":"address"},
		{"name":"deadline","type":"uint256"}]},
	{"name":"swapExactTokensForAVAX","type":"function","inputs":[
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOutMin","type":"uint256"},
		{"name":"path","type":"address[]"},
		{"name":"to","type":"address"},
		{"name":"deadline","type":"uint256"}]},
	{"name":"approve","type":"function","inputs":[
		{"name":"spender","type":"address"},
		{"name":"amount","type":"uint256"}]}
]`

// BundleBuilder packs the ABI calls for a native-wrapped cross-venue
// cycle: buy tokenB on one venue, sell it back to native on the other.
type BundleBuilder struct {
	parsed abi.ABI
}

// NewBundleBuilder parses the embedded router ABI once.
func NewBundleBuilder() (*BundleBuilder, error) {
	parsed, err := abi.JSON(strings.NewReader(routerBundleABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse bundle abi")
	}
	return &BundleBuilder{parsed: parsed}, nil
}

// CrossVenueParams describes one native-wrapped cross-venue cycle: buy
// tokenB with native on buyVenue's router, then sell tokenB back to
// native on sellVenue's router.
type CrossVenueParams struct {
	Self          common.Address
	NativeWrapped common.Address
	TokenB        common.Address
	BuyRouter     common.Address
	SellRouter    common.Address
	AmountIn      *big.Int // native wei to trade
	BuyPrice      float64  // tokenB per native on the buy venue
	SellPrice     float64  // tokenB per native on the sell venue
	TokenBDecimals int
}

// BuildCrossVenueCycle builds the three-leg bundle for the case where
// tokenA is the native wrapped token: swap native for tokenB on the buy
// venue, approve the sell venue's router to spend tokenB, then swap
// tokenB back to native on the sell venue. The tokenB amount received
// from leg one is estimated offline (tradeAmount * buyPrice) since the
// bundle is built before the sandbox replay that would give an exact
// figure — a known source of bundle failures when the pool has moved.
func (b *BundleBuilder) BuildCrossVenueCycle(p CrossVenueParams, now time.Time) (mevtypes.Bundle, error) {
	deadline := big.NewInt(now.Add(deadlineWindow).Unix())
	path1 := []common.Address{p.NativeWrapped, p.TokenB}
	path2 := []common.Address{p.TokenB, p.NativeWrapped}

	swap1, err := b.parsed.Pack("swapExactAVAXForTokens", big.NewInt(0), path1, p.Self, deadline)
	if err != nil {
		return mevtypes.Bundle{}, errors.Wrap(err, "pack leg 1")
	}

	approveData, err := b.parsed.Pack("approve", p.SellRouter, maxUint256())
	if err != nil {
		return mevtypes.Bundle{}, errors.Wrap(err, "pack approve")
	}

	estimated := estimateTokenBAmount(p.AmountIn, p.BuyPrice, p.TokenBDecimals)

	swap2, err := b.parsed.Pack("swapExactTokensForAVAX", estimated, big.NewInt(0), path2, p.Self, deadline)
	if err != nil {
		return mevtypes.Bundle{}, errors.Wrap(err, "pack leg 2")
	}

	expectedNativeOut := estimateNativeAmount(estimated, p.SellPrice, p.TokenBDecimals)
	expectedProfit := new(big.Int).Sub(expectedNativeOut, p.AmountIn)

	return mevtypes.Bundle{
		ID: uuid.NewString(),
		Txs: []mevtypes.TxRequest{
			{To: p.BuyRouter, Value: p.AmountIn, Data: swap1, GasLimit: 300000},
			{To: p.TokenB, Value: big.NewInt(0), Data: approveData, GasLimit: 100000},
			{To: p.SellRouter, Value: big.NewInt(0), Data: swap2, GasLimit: 300000},
		},
		ExpectedProfit: expectedProfit,
		Description:    "native->tokenB on buy venue, approve, tokenB->native on sell venue",
	}, nil
}

// estimateTokenBAmount rounds tradeAmount*buyPrice to tokenB's decimals.
// It's an approximation — the real amount out depends on the pool's
// state at execution time, which this function has no way to see.
func estimateTokenBAmount(amountInWei *big.Int, buyPrice float64, decimals int) *big.Int {
	amountInFloat := new(big.Float).SetInt(amountInWei)
	weiPerUnit := new(big.Float).SetFloat64(math.Pow(10, 18))
	humanIn, _ := new(big.Float).Quo(amountInFloat, weiPerUnit).Float64()

	humanOut := humanIn * buyPrice
	scaled := humanOut * math.Pow(10, float64(decimals))

	out, _ := big.NewFloat(scaled).Int(nil)
	return out
}

// estimateNativeAmount is estimateTokenBAmount's inverse: given a tokenB
// amount and the sell venue's tokenB-per-native mid-price, it returns the
// native wei expected back from the sell leg. Shares the same
// known-imprecision caveat as estimateTokenBAmount.
func estimateNativeAmount(tokenBAmount *big.Int, sellPrice float64, decimals int) *big.Int {
	if sellPrice == 0 {
		return big.NewInt(0)
	}

	amountFloat := new(big.Float).SetInt(tokenBAmount)
	unitsPerToken := new(big.Float).SetFloat64(math.Pow(10, float64(decimals)))
	humanIn, _ := new(big.Float).Quo(amountFloat, unitsPerToken).Float64()

	humanOut := humanIn / sellPrice
	scaled := humanOut * math.Pow(10, 18)

	out, _ := big.NewFloat(scaled).Int(nil)
	return out
}

func maxUint256() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	return max.Sub(max, big.NewInt(1))
}
