// Package chain reads subnet state from a subtensor node: chain head,
// per-hotkey alpha balances and the registered miner roster.
package chain

import (
	"context"
	"errors"
	"fmt"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"

	"github.com/taoliq/incentived/params"
)

// ErrNoStorage is returned when a scan finds no keys at all, which on a
// live chain means the pallet prefix is wrong or the node is unsynced.
var ErrNoStorage = errors.New("chain: storage scan returned nothing")

// rpcCaller is the slice of the substrate RPC client the package needs.
type rpcCaller interface {
	Call(result interface{}, method string, args ...interface{}) error
}

// Client wraps a substrate RPC connection.
type Client struct {
	url    string
	caller rpcCaller
}

// Dial connects to a subtensor node over websocket or HTTP RPC.
func Dial(url string) (*Client, error) {
	api, err := gsrpc.NewSubstrateAPI(url)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", url, err)
	}
	return &Client{url: url, caller: api.Client}, nil
}

// URL returns the endpoint this client talks to.
func (c *Client) URL() string { return c.url }

// Close shuts the underlying RPC connection down when the transport
// exposes one.
func (c *Client) Close() {
	if closer, ok := c.caller.(interface{ Close() }); ok {
		closer.Close()
	}
}

// call runs an RPC call, abandoning it when ctx expires. An abandoned
// call's result must not be reused, which every caller here respects by
// returning the context error.
func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	done := make(chan error, 1)
	go func() { done <- c.caller.Call(result, method, args...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BlockNumber returns the chain head height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var head types.Header
	if err := c.call(ctx, &head, "chain_getHeader"); err != nil {
		return 0, fmt.Errorf("chain: get header: %w", err)
	}
	return uint64(head.Number), nil
}

// scanStorage pages through every storage key under prefix and feeds each
// key/value pair to fn. Pagination cursors on the last key of each page.
func (c *Client) scanStorage(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	prefixHex := codec.HexEncodeToString(prefix)
	startKey := ""
	for {
		var page []string
		args := []interface{}{prefixHex, params.StorageScanPageSize}
		if startKey != "" {
			args = append(args, startKey)
		}
		if err := c.call(ctx, &page, "state_getKeysPaged", args...); err != nil {
			return fmt.Errorf("chain: get keys: %w", err)
		}
		if len(page) == 0 {
			return nil
		}

		var sets []types.StorageChangeSet
		if err := c.call(ctx, &sets, "state_queryStorageAt", page); err != nil {
			return fmt.Errorf("chain: query storage: %w", err)
		}
		for _, set := range sets {
			for _, change := range set.Changes {
				if !change.HasStorageData {
					continue
				}
				if err := fn(change.StorageKey, change.StorageData); err != nil {
					return err
				}
			}
		}

		if len(page) < params.StorageScanPageSize {
			return nil
		}
		startKey = page[len(page)-1]
	}
}
