package simulator

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestBuildCrossVenueCycleProducesThreeLegs(t *testing.T) {
	b, err := NewBundleBuilder()
	require.NoError(t, err)

	params := CrossVenueParams{
		Self:           common.HexToAddress("0xeeee"),
		NativeWrapped:  common.HexToAddress("0xaaaa"),
		TokenB:         common.HexToAddress("0xbbbb"),
		BuyRouter:      common.HexToAddress("0x1111"),
		SellRouter:     common.HexToAddress("0x2222"),
		AmountIn:       big.NewInt(1e18),
		BuyPrice:       2.0,
		SellPrice:      1.5,
		TokenBDecimals: 18,
	}

	bundle, err := b.BuildCrossVenueCycle(params, time.Unix(1_700_000_000, 0))
	require.NoError(t, err)
	require.NotEmpty(t, bundle.ID)
	require.Len(t, bundle.Txs, 3)

	require.Equal(t, params.BuyRouter, bundle.Txs[0].To)
	require.Equal(t, params.AmountIn, bundle.Txs[0].Value)

	require.Equal(t, params.TokenB, bundle.Txs[1].To)
	require.Equal(t, big.NewInt(0), bundle.Txs[1].Value)

	require.Equal(t, params.SellRouter, bundle.Txs[2].To)
	require.NotNil(t, bundle.ExpectedProfit)
}

func TestBuildCrossVenueCycleSetsExpectedProfit(t *testing.T) {
	b, err := NewBundleBuilder()
	require.NoError(t, err)

	params := CrossVenueParams{
		Self: common.HexToAddress("0xeeee"), NativeWrapped: common.HexToAddress("0xaaaa"),
		TokenB: common.HexToAddress("0xbbbb"), BuyRouter: common.HexToAddress("0x1111"),
		SellRouter: common.HexToAddress("0x2222"), AmountIn: big.NewInt(1e18),
		BuyPrice: 2.0, SellPrice: 1.5, TokenBDecimals: 18,
	}

	bundle, err := b.BuildCrossVenueCycle(params, time.Now())
	require.NoError(t, err)
	require.NotNil(t, bundle.ExpectedProfit)

	// 1 native buys 2.0 tokenB at buyPrice, 2.0 tokenB sells back for
	// 2.0/1.5 native at sellPrice: expected profit is that minus the 1
	// native spent.
	profitFloat := new(big.Float).SetInt(bundle.ExpectedProfit)
	scale := new(big.Float).SetFloat64(1e18)
	humanProfit, _ := new(big.Float).Quo(profitFloat, scale).Float64()

	require.InDelta(t, 2.0/1.5-1.0, humanProfit, 1e-6)
}

func TestBuildCrossVenueCycleExpectedProfitZeroWhenPricesMatch(t *testing.T) {
	b, err := NewBundleBuilder()
	require.NoError(t, err)

	params := CrossVenueParams{
		Self: common.HexToAddress("0xeeee"), NativeWrapped: common.HexToAddress("0xaaaa"),
		TokenB: common.HexToAddress("0xbbbb"), BuyRouter: common.HexToAddress("0x1111"),
		SellRouter: common.HexToAddress("0x2222"), AmountIn: big.NewInt(1e18),
		BuyPrice: 2.0, SellPrice: 2.0, TokenBDecimals: 18,
	}

	bundle, err := b.BuildCrossVenueCycle(params, time.Now())
	require.NoError(t, err)

	profitFloat := new(big.Float).SetInt(bundle.ExpectedProfit)
	scale := new(big.Float).SetFloat64(1e18)
	humanProfit, _ := new(big.Float).Quo(profitFloat, scale).Float64()

	require.InDelta(t, 0.0, humanProfit, 1e-6)
}

func TestBuildCrossVenueCycleApprovesMaxUint256(t *testing.T) {
	b, err := NewBundleBuilder()
	require.NoError(t, err)

	parsed, err := abi.JSON(strings.NewReader(routerBundleABI))
	require.NoError(t, err)

	params := CrossVenueParams{
		Self: common.HexToAddress("0xeeee"), NativeWrapped: common.HexToAddress("0xaaaa"),
		TokenB: common.HexToAddress("0xbbbb"), BuyRouter: common.HexToAddress("0x1111"),
		SellRouter: common.HexToAddress("0x2222"), AmountIn: big.NewInt(1e18), BuyPrice: 2.0, TokenBDecimals: 18,
	}
	bundle, err := b.BuildCrossVenueCycle(params, time.Now())
	require.NoError(t, err)

	method, err := parsed.MethodById(bundle.Txs[1].Data[:4])
	require.NoError(t, err)
	require.Equal(t, "approve", method.Name)

	args, err := method.Inputs.Unpack(bundle.Txs[1].Data[4:])
	require.NoError(t, err)
	amount, ok := args[1].(*big.Int)
	require.True(t, ok)
	require.Equal(t, maxUint256(), amount)
}

func TestEstimateTokenBAmountScalesByPriceAndDecimals(t *testing.T) {
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	out := estimateTokenBAmount(oneEth, 2.0, 18)

	f := new(big.Float).SetInt(out)
	scale := new(big.Float).SetFloat64(1e18)
	humanOut, _ := new(big.Float).Quo(f, scale).Float64()

	require.InDelta(t, 2.0, humanOut, 1e-6)
}

func TestEstimateNativeAmountInvertsEstimateTokenBAmount(t *testing.T) {
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	tokenB := estimateTokenBAmount(oneEth, 2.0, 18)
	nativeOut := estimateNativeAmount(tokenB, 2.0, 18)

	f := new(big.Float).SetInt(nativeOut)
	scale := new(big.Float).SetFloat64(1e18)
	humanOut, _ := new(big.Float).Quo(f, scale).Float64()

	require.InDelta(t, 1.0, humanOut, 1e-6)
}

func TestEstimateNativeAmountZeroSellPriceReturnsZero(t *testing.T) {
	require.Equal(t, big.NewInt(0), estimateNativeAmount(big.NewInt(1e18), 0, 18))
}

func TestMaxUint256IsAllOnes(t *testing.T) {
	max := maxUint256()
	expected := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	require.Equal(t, expected, max)
}
