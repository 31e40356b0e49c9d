package simulator

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFastModeProfitNetsGasAndValue(t *testing.T) {
	expected := big.NewInt(1_000_000)
	gasCost := big.NewInt(300_000)
	value := big.NewInt(200_000)

	profit := fastModeProfit(expected, gasCost, value)
	require.Equal(t, big.NewInt(500_000), profit)
}

func TestFastModeProfitCanBeNegative(t *testing.T) {
	expected := big.NewInt(100)
	gasCost := big.NewInt(300)
	value := big.NewInt(0)

	profit := fastModeProfit(expected, gasCost, value)
	require.Equal(t, big.NewInt(-200), profit)
}

func TestSafeSubClampsAtZero(t *testing.T) {
	require.Equal(t, uint64(0), safeSub(1, 5))
	require.Equal(t, uint64(3), safeSub(5, 2))
}

func TestGweiToWeiScalesByBillion(t *testing.T) {
	require.Equal(t, big.NewInt(25_000_000_000), gweiToWei(25))
}
