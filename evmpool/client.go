// Package evmpool validates Uniswap V3 pools against the factory contract
// and reads their metadata over an EVM JSON-RPC endpoint.
package evmpool

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"
)

var (
	// ErrNotAPool means the factory does not recognize the address as the
	// canonical pool for its own token pair and fee.
	ErrNotAPool = errors.New("evmpool: factory mismatch")

	// ErrBadAddress rejects input that is not a well-formed EVM address.
	ErrBadAddress = errors.New("evmpool: malformed address")
)

// validatedCacheSize bounds the set of remembered good pools. Votes carry
// at most ten pools each, so even a busy subnet stays far below this.
const validatedCacheSize = 1024

// contractCaller is the slice of ethclient the package needs.
type contractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Metadata is a pool's on-chain description.
type Metadata struct {
	Address   string
	Token0    string
	Token1    string
	Fee       int64
	Liquidity string
	Symbol0   string
	Symbol1   string
}

// Client validates pools and reads metadata. Validation results are
// LRU-cached; a pool's factory registration never changes once made.
type Client struct {
	caller    contractCaller
	factory   common.Address
	validated *lru.Cache
}

// Dial connects to an EVM JSON-RPC endpoint.
func Dial(rawurl string, factory string) (*Client, error) {
	if !common.IsHexAddress(factory) {
		return nil, fmt.Errorf("%w: factory %s", ErrBadAddress, factory)
	}
	ec, err := ethclient.Dial(rawurl)
	if err != nil {
		return nil, fmt.Errorf("evmpool: dial %s: %w", rawurl, err)
	}
	return NewClient(ec, common.HexToAddress(factory)), nil
}

// NewClient wraps an existing contract caller.
func NewClient(caller contractCaller, factory common.Address) *Client {
	cache, _ := lru.New(validatedCacheSize)
	return &Client{caller: caller, factory: factory, validated: cache}
}

// Close releases the underlying RPC connection when the caller exposes
// one.
func (c *Client) Close() {
	if closer, ok := c.caller.(interface{ Close() }); ok {
		closer.Close()
	}
}

// call packs, executes and unpacks one view method.
func (c *Client) call(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evmpool: pack %s: %w", method, err)
	}
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evmpool: call %s on %s: %w", method, contract.Hex(), err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("evmpool: unpack %s on %s: %w", method, contract.Hex(), err)
	}
	return values, nil
}

// poolPair reads a pool's token0, token1 and fee.
func (c *Client) poolPair(ctx context.Context, pool common.Address) (token0, token1 common.Address, fee *big.Int, err error) {
	out, err := c.call(ctx, pool, poolABI, "token0")
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	token0 = out[0].(common.Address)

	out, err = c.call(ctx, pool, poolABI, "token1")
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	token1 = out[0].(common.Address)

	out, err = c.call(ctx, pool, poolABI, "fee")
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	fee = out[0].(*big.Int)
	return token0, token1, fee, nil
}

// ValidatePool checks that address is the factory's canonical pool for its
// own (token0, token1, fee) triple. A pool that passes once is remembered.
func (c *Client) ValidatePool(ctx context.Context, address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("%w: %s", ErrBadAddress, address)
	}
	pool := common.HexToAddress(address)
	if _, ok := c.validated.Get(pool); ok {
		return nil
	}

	token0, token1, fee, err := c.poolPair(ctx, pool)
	if err != nil {
		return err
	}
	out, err := c.call(ctx, c.factory, factoryABI, "getPool", token0, token1, fee)
	if err != nil {
		return err
	}
	canonical := out[0].(common.Address)
	if canonical != pool {
		return fmt.Errorf("%w: %s resolves to %s", ErrNotAPool, pool.Hex(), canonical.Hex())
	}
	c.validated.Add(pool, struct{}{})
	return nil
}

// Metadata reads a pool's pair, fee, liquidity and token symbols. Symbol
// lookups tolerate failure: some tokens store bytes32 symbols the ABI
// cannot decode, and a blank symbol is better than a lost pool.
func (c *Client) Metadata(ctx context.Context, address string) (Metadata, error) {
	if !common.IsHexAddress(address) {
		return Metadata{}, fmt.Errorf("%w: %s", ErrBadAddress, address)
	}
	pool := common.HexToAddress(address)

	token0, token1, fee, err := c.poolPair(ctx, pool)
	if err != nil {
		return Metadata{}, err
	}
	out, err := c.call(ctx, pool, poolABI, "liquidity")
	if err != nil {
		return Metadata{}, err
	}
	liquidity := out[0].(*big.Int)

	meta := Metadata{
		Address:   normalizeHex(pool),
		Token0:    normalizeHex(token0),
		Token1:    normalizeHex(token1),
		Fee:       fee.Int64(),
		Liquidity: liquidity.String(),
		Symbol0:   c.symbol(ctx, token0),
		Symbol1:   c.symbol(ctx, token1),
	}
	return meta, nil
}

func (c *Client) symbol(ctx context.Context, token common.Address) string {
	out, err := c.call(ctx, token, erc20ABI, "symbol")
	if err != nil {
		log.Debug("Token symbol unavailable", "token", token.Hex(), "err", err)
		return ""
	}
	s, _ := out[0].(string)
	return s
}

// normalizeHex renders an address in the lowercase form used as a map and
// database key throughout.
func normalizeHex(addr common.Address) string {
	return "0x" + common.Bytes2Hex(addr.Bytes())
}
