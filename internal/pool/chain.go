package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

const (
	poolABIJSON = `[
{"inputs":[],"name":"totalDeposits","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"totalBorrows","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`
)

var poolABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		panic("failed to parse pool ABI: " + err.Error())
	}
	poolABI = parsed
}

// ChainOptions parameterise the on-chain fetcher.
type ChainOptions struct {
	RPCURL  string
	Timeout time.Duration
}

// Chain reads pool aggregates over Ethereum RPC. Both view calls and the
// header read are pinned to the same block so the snapshot is consistent.
type Chain struct {
	opts      ChainOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewChain builds a new on-chain state fetcher.
func NewChain(opts ChainOptions, logger zerolog.Logger) *Chain {
	return &Chain{opts: opts, logger: logger.With().Str("component", "pool_chain").Logger()}
}

// FetchState retrieves the pool's aggregates at the latest block.
func (c *Chain) FetchState(ctx context.Context, binding Binding) (State, error) {
	if c.opts.RPCURL == "" {
		return State{}, errors.New("pool rpc url not configured")
	}
	if binding.Contract == "" {
		return State{}, fmt.Errorf("asset %q has no pool contract configured", binding.Key)
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return State{}, err
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return State{}, fmt.Errorf("fetch latest header: %w", err)
	}
	block := header.Number

	addr := common.HexToAddress(binding.Contract)

	deposits, err := c.callUint256(ctx, client, addr, "totalDeposits", block)
	if err != nil {
		return State{}, err
	}
	borrows, err := c.callUint256(ctx, client, addr, "totalBorrows", block)
	if err != nil {
		return State{}, err
	}

	return State{
		TotalDeposits: deposits,
		TotalBorrows:  borrows,
		Timestamp:     header.Time * 1_000_000,
		BlockNumber:   block.Uint64(),
	}, nil
}

func (c *Chain) callUint256(ctx context.Context, client *ethclient.Client, addr common.Address, method string, block *big.Int) (*uint256.Int, error) {
	payload, err := poolABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	outputs, err := poolABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("unexpected %s response", method)
	}

	raw, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to decode %s output", method)
	}

	value, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, fmt.Errorf("%s value exceeds 256 bits", method)
	}
	return value, nil
}

func (c *Chain) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ StateFetcher = (*Chain)(nil)
