package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"chainwatch/internal/model"
)

// Client wraps go-ethereum RPC. It is safe for concurrent use by several
// watchers; every failure is returned as a *model.ProviderError.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	timeout   time.Duration
}

// NewClient dials rpcURL (http, ws or ipc). A positive timeout bounds each call.
func NewClient(ctx context.Context, rpcURL string, timeout time.Duration) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, model.NewProviderError("dial", err)
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		timeout:   timeout,
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain ID.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	id, err := c.ethClient.ChainID(ctx)
	if err != nil {
		return nil, model.NewProviderError("eth_chainId", err)
	}
	return id, nil
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	n, err := c.ethClient.BlockNumber(ctx)
	if err != nil {
		return 0, model.NewProviderError("eth_blockNumber", err)
	}
	return n, nil
}

// FilterLogs returns logs in [fromBlock, toBlock] for addresses and topic0 filters.
// Nodes return logs ordered by block and log index.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topic0 []common.Hash,
) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}
	if len(topic0) > 0 {
		query.Topics = [][]common.Hash{topic0}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	logs, err := c.ethClient.FilterLogs(ctx, query)
	if err != nil {
		return nil, model.NewProviderError("eth_getLogs", err)
	}
	return logs, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
