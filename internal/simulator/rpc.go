package simulator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// jsonRPCBlockNumber is the minimal readiness probe: a plain eth_blockNumber
// call against the sandbox's own RPC endpoint.
func jsonRPCBlockNumber(ctx context.Context, endpoint string) error {
	client, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return err
	}
	defer client.Close()

	var result string
	return client.CallContext(ctx, &result, "eth_blockNumber")
}

// forkSpec is the object-shaped anvil_reset argument:
// `{forking:{jsonRpcUrl, blockNumber}}`.
type forkSpec struct {
	Forking struct {
		JSONRPCURL  string `json:"jsonRpcUrl"`
		BlockNumber uint64 `json:"blockNumber"`
	} `json:"forking"`
}

// Reset calls the sandbox's anvil_reset administrative method to repin
// to a fresh fork.
func (s *Sandbox) Reset(ctx context.Context, forkURL string, blockNumber uint64) error {
	client, err := rpc.DialContext(ctx, s.Endpoint())
	if err != nil {
		return errors.Wrap(err, "dial sandbox for reset")
	}
	defer client.Close()

	var spec forkSpec
	spec.Forking.JSONRPCURL = forkURL
	spec.Forking.BlockNumber = blockNumber

	return errors.Wrap(client.CallContext(ctx, nil, "anvil_reset", spec), "anvil_reset")
}

// SetBalance calls anvil_setBalance to re-fund an account after reset.
func (s *Sandbox) SetBalance(ctx context.Context, addr string, wei *big.Int) error {
	client, err := rpc.DialContext(ctx, s.Endpoint())
	if err != nil {
		return errors.Wrap(err, "dial sandbox for setBalance")
	}
	defer client.Close()

	hexWei := "0x" + wei.Text(16)
	return errors.Wrap(client.CallContext(ctx, nil, "anvil_setBalance", addr, hexWei), "anvil_setBalance")
}
