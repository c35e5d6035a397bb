// Package flowevm is a read-only client for the Flow EVM chain: stFLOW token
// state, lending-market account data, and oracle prices. It never sends
// transactions.
package flowevm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Config holds the chain endpoint and the contract addresses the client reads.
type Config struct {
	// RPCEndpoint is the Flow EVM JSON-RPC URL, e.g.
	// "https://mainnet.evm.nodes.onflow.org".
	RPCEndpoint string

	// ChainID is the expected chain ID (747 for Flow EVM mainnet). A mismatch
	// on connect is an error.
	ChainID int64

	// StFlowToken is the stFLOW liquid-staking token contract.
	StFlowToken string

	// LendingPool is the Aave-style lending pool used by looping positions.
	LendingPool string

	// PriceOracle is the price oracle contract quoting assets in USD.
	PriceOracle string
}

// AccountData is the lending pool's aggregate view of one wallet, converted
// out of the contract's fixed-point representation.
type AccountData struct {
	TotalCollateralUSD  float64
	TotalDebtUSD        float64
	AvailableBorrowsUSD float64
	// LiquidationThreshold is the weighted average threshold as a fraction.
	LiquidationThreshold float64
	// LTV is the weighted average maximum loan-to-value as a fraction.
	LTV float64
	// HealthFactor as reported by the pool; may be very large for
	// debt-free accounts.
	HealthFactor float64
}

const erc20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"type":"uint256"}]},
	{"name":"getExchangeRate","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]}
]`

const lendingPoolABI = `[
	{"name":"getUserAccountData","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[
		{"name":"totalCollateralBase","type":"uint256"},
		{"name":"totalDebtBase","type":"uint256"},
		{"name":"availableBorrowsBase","type":"uint256"},
		{"name":"currentLiquidationThreshold","type":"uint256"},
		{"name":"ltv","type":"uint256"},
		{"name":"healthFactor","type":"uint256"}
	]}
]`

const oracleABI = `[
	{"name":"getAssetPrice","type":"function","stateMutability":"view","inputs":[{"name":"asset","type":"address"}],"outputs":[{"type":"uint256"}]}
]`

// Fixed-point scales used by the contracts.
var (
	wadScale  = new(big.Float).SetFloat64(1e18) // token amounts, exchange rate, health factor
	bpsScale  = new(big.Float).SetFloat64(1e4)  // threshold and LTV in basis points
	baseScale = new(big.Float).SetFloat64(1e8)  // oracle and account data USD values
)

// Client is a read-only Flow EVM client.
type Client struct {
	eth *ethclient.Client

	stFlowToken common.Address
	lendingPool common.Address
	priceOracle common.Address

	erc20   abi.ABI
	lending abi.ABI
	oracle  abi.ABI
}

// New dials the RPC endpoint, verifies the chain ID, and parses the contract
// ABIs.
func New(ctx context.Context, cfg Config) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("flowevm: dial %s: %w", cfg.RPCEndpoint, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("flowevm: chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("flowevm: chain id mismatch: want %d, got %d", cfg.ChainID, chainID.Int64())
	}

	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("flowevm: parse erc20 abi: %w", err)
	}
	lending, err := abi.JSON(strings.NewReader(lendingPoolABI))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("flowevm: parse lending abi: %w", err)
	}
	oracle, err := abi.JSON(strings.NewReader(oracleABI))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("flowevm: parse oracle abi: %w", err)
	}

	return &Client{
		eth:         eth,
		stFlowToken: common.HexToAddress(cfg.StFlowToken),
		lendingPool: common.HexToAddress(cfg.LendingPool),
		priceOracle: common.HexToAddress(cfg.PriceOracle),
		erc20:       erc20,
		lending:     lending,
		oracle:      oracle,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// FlowBalance returns the wallet's native FLOW balance in whole tokens.
func (c *Client) FlowBalance(ctx context.Context, wallet string) (float64, error) {
	bal, err := c.eth.BalanceAt(ctx, common.HexToAddress(wallet), nil)
	if err != nil {
		return 0, fmt.Errorf("flowevm: flow balance %s: %w", wallet, err)
	}
	return scaleDown(bal, wadScale), nil
}

// StFlowBalance returns the wallet's stFLOW token balance in whole tokens.
func (c *Client) StFlowBalance(ctx context.Context, wallet string) (float64, error) {
	out, err := c.call(ctx, c.stFlowToken, c.erc20, "balanceOf", common.HexToAddress(wallet))
	if err != nil {
		return 0, fmt.Errorf("flowevm: stflow balance %s: %w", wallet, err)
	}
	return scaleDown(out[0].(*big.Int), wadScale), nil
}

// StFlowExchangeRate returns the stFLOW/FLOW exchange rate quoted by the
// staking contract. The rate drifts upward as staking rewards accrue.
func (c *Client) StFlowExchangeRate(ctx context.Context) (float64, error) {
	out, err := c.call(ctx, c.stFlowToken, c.erc20, "getExchangeRate")
	if err != nil {
		return 0, fmt.Errorf("flowevm: stflow exchange rate: %w", err)
	}
	return scaleDown(out[0].(*big.Int), wadScale), nil
}

// LendingAccountData returns the lending pool's aggregate view of a wallet.
func (c *Client) LendingAccountData(ctx context.Context, wallet string) (AccountData, error) {
	out, err := c.call(ctx, c.lendingPool, c.lending, "getUserAccountData", common.HexToAddress(wallet))
	if err != nil {
		return AccountData{}, fmt.Errorf("flowevm: account data %s: %w", wallet, err)
	}

	return AccountData{
		TotalCollateralUSD:   scaleDown(out[0].(*big.Int), baseScale),
		TotalDebtUSD:         scaleDown(out[1].(*big.Int), baseScale),
		AvailableBorrowsUSD:  scaleDown(out[2].(*big.Int), baseScale),
		LiquidationThreshold: scaleDown(out[3].(*big.Int), bpsScale),
		LTV:                  scaleDown(out[4].(*big.Int), bpsScale),
		HealthFactor:         scaleDown(out[5].(*big.Int), wadScale),
	}, nil
}

// OraclePrice returns the oracle's USD price for an asset contract.
func (c *Client) OraclePrice(ctx context.Context, asset string) (float64, error) {
	out, err := c.call(ctx, c.priceOracle, c.oracle, "getAssetPrice", common.HexToAddress(asset))
	if err != nil {
		return 0, fmt.Errorf("flowevm: oracle price %s: %w", asset, err)
	}
	return scaleDown(out[0].(*big.Int), baseScale), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// call packs a view-method call, executes it via eth_call, and unpacks the
// outputs.
func (c *Client) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// scaleDown converts a fixed-point big.Int to float64 at the given scale.
func scaleDown(v *big.Int, scale *big.Float) float64 {
	f := new(big.Float).Quo(new(big.Float).SetInt(v), scale)
	out, _ := f.Float64()
	return out
}
