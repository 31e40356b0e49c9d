// Package swapdecode decodes calldata against the constant-product V2
// router ABI family. Venues are modeled as a tagged variant keyed by
// protocol family rather than language-level polymorphism; constant-product
// V2 is the only family implemented here, so the "dispatch" is a single
// switch over selector name.
//
// A minimal JSON ABI is parsed once with accounts/abi, then Unpack is
// called against it for each piece of calldata.
package swapdecode

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/thoerner/mev-bot/internal/mevtypes"
)

// routerV2ABI covers the handful of swap selectors common to V2-style
// routers: token-to-token, exact-in/out, and the native-wrapped-asset
// variants used in the bundle simulator's cross-venue cycle.
const routerV2ABI = `[
	{"name":"swapExactTokensForTokens","type":"function","inputs":[
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOutMin","type":"uint256"},
		{"name":"path","type":"address[]"},
		{"name":"to","type":"address"},
		{"name":"deadline","type":"uint256"}]},
	{"name":"swapTokensForExactTokens","type":"function","inputs":[
		{"name":"amountOut","type":"uint256"},
		{"name":"amountInMax","type":"uint256"},
		{"name":"path","type":"address[]"},
		{"name":"to","type":"address"},
		{"name":"deadline","type":"uint256"}]},
	{"name":"swapExactETHForTokens","type":"function","inputs":[
		{"name":"amountOutMin","type":"uint256"},
		{"name":"path","type":"address[]"},
		{"name":"to","type":"address"},
		{"name":"deadline","type":"uint256"}]},
	{"name":"swapExactTokensForETH","type":"function","inputs":[
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOutMin","type":"uint256"},
		{"name":"path","type":"address[]"},
		{"name":"to","type":"address"},
		{"name":"deadline","type":"uint256"}]},
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
		{"name":"deadline","type":"uint256"}]}
]`

// Decoder parses calldata against the router V2 ABI family.
type Decoder struct {
	parsed abi.ABI
}

// New parses the embedded router ABI once.
func New() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(routerV2ABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse router abi")
	}
	return &Decoder{parsed: parsed}, nil
}

// Decode parses calldata against the router ABI. It returns (nil, nil)
// when the selector is unknown or the calldata is too short to carry a
// 4-byte selector — an unrecognized call is routine, not an error the
// caller must handle specially.
func (d *Decoder) Decode(router common.Address, data []byte) (*mevtypes.DecodedSwap, error) {
	if len(data) < 4 {
		return nil, nil
	}

	method, err := d.parsed.MethodById(data[:4])
	if err != nil {
		return nil, nil // unknown selector: store without decoded call
	}

	if !strings.Contains(strings.ToLower(method.Name), "swap") {
		return nil, nil
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method.Name)
	}

	return buildSwap(router, method.Name, args)
}

func buildSwap(router common.Address, name string, args []interface{}) (*mevtypes.DecodedSwap, error) {
	path, ok := findPath(args)
	if !ok || len(path) < 2 {
		return nil, errors.Errorf("%s: no path argument", name)
	}

	swap := &mevtypes.DecodedSwap{
		Router:   router,
		Selector: name,
		IsSwap:   true,
		Path:     path,
		TokenIn:  path[0],
		TokenOut: path[len(path)-1],
	}

	switch name {
	case "swapExactTokensForTokens", "swapExactTokensForETH", "swapExactTokensForAVAX":
		swap.AmountIn, _ = args[0].(*big.Int)
		swap.AmountOut, _ = args[1].(*big.Int)
	case "swapTokensForExactTokens":
		swap.AmountOut, _ = args[0].(*big.Int)
		swap.AmountIn, _ = args[1].(*big.Int)
	case "swapExactETHForTokens", "swapExactAVAXForTokens":
		swap.AmountOut, _ = args[0].(*big.Int)
	}

	if !fitsUint256(swap.AmountIn) || !fitsUint256(swap.AmountOut) {
		return nil, errors.Errorf("%s: amount argument overflows uint256", name)
	}

	return swap, nil
}

// fitsUint256 reports whether x (nil is treated as fitting) is a
// non-negative value representable as a uint256, the type every ERC20
// amount is declared as on-chain. abi.Unpack already enforces this for
// well-formed calldata; this is a defense against a future ABI entry
// whose width assumption doesn't match.
func fitsUint256(x *big.Int) bool {
	if x == nil {
		return true
	}
	if x.Sign() < 0 {
		return false
	}
	_, overflow := uint256.FromBig(x)
	return !overflow
}

func findPath(args []interface{}) ([]common.Address, bool) {
	for _, a := range args {
		if path, ok := a.([]common.Address); ok {
			return path, true
		}
	}
	return nil, false
}
