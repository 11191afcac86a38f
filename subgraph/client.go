// Package subgraph queries the Uniswap V3 subgraph for liquidity
// positions. Numeric fields come back as decimal strings and are parsed
// by the caller.
package subgraph

import (
	"context"
	"fmt"
	"net/http"

	"github.com/machinebox/graphql"

	"github.com/taoliq/incentived/params"
)

// Position is one raw subgraph row.
type Position struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	Liquidity string `json:"liquidity"`
	TickLower Tick   `json:"tickLower"`
	TickUpper Tick   `json:"tickUpper"`
	Pool      Pool   `json:"pool"`
	Token0    Token  `json:"token0"`
	Token1    Token  `json:"token1"`
}

// Tick wraps the subgraph's tick entity.
type Tick struct {
	TickIdx string `json:"tickIdx"`
}

// Pool is the position's pool with its live tick.
type Pool struct {
	ID      string `json:"id"`
	FeeTier string `json:"feeTier"`
	Tick    string `json:"tick"`
}

// Token describes one side of the pair.
type Token struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Decimals string `json:"decimals"`
}

const positionsQuery = `
query ($owners: [String!], $pools: [String!], $minLiquidity: BigInt!, $limit: Int!, $lastID: ID!) {
  positions(
    first: $limit
    orderBy: id
    where: {owner_in: $owners, pool_in: $pools, liquidity_gt: $minLiquidity, id_gt: $lastID}
  ) {
    id
    owner
    liquidity
    tickLower { tickIdx }
    tickUpper { tickIdx }
    pool { id feeTier tick }
    token0 { id symbol decimals }
    token1 { id symbol decimals }
  }
}`

// Client talks to one subgraph deployment.
type Client struct {
	gql    *graphql.Client
	apiKey string
}

// NewClient builds a client for the subgraph at url. apiKey may be empty
// for keyless gateways.
func NewClient(url, apiKey string) *Client {
	httpClient := &http.Client{Timeout: params.SubgraphCallTimeout}
	return &Client{
		gql:    graphql.NewClient(url, graphql.WithHTTPClient(httpClient)),
		apiKey: apiKey,
	}
}

// Positions fetches all positions held by owners in pools with more than
// dust liquidity. Owners are batched per request and each batch pages on
// position id until a short page.
func (c *Client) Positions(ctx context.Context, owners, pools []string) ([]Position, error) {
	// An empty filter would match the whole subgraph.
	if len(owners) == 0 || len(pools) == 0 {
		return nil, nil
	}

	var all []Position
	for start := 0; start < len(owners); start += params.PositionOwnerBatch {
		end := start + params.PositionOwnerBatch
		if end > len(owners) {
			end = len(owners)
		}
		batch, err := c.ownerBatch(ctx, owners[start:end], pools)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}
	return all, nil
}

func (c *Client) ownerBatch(ctx context.Context, owners, pools []string) ([]Position, error) {
	var out []Position
	lastID := ""
	for {
		req := graphql.NewRequest(positionsQuery)
		req.Var("owners", owners)
		req.Var("pools", pools)
		req.Var("minLiquidity", fmt.Sprintf("%d", params.MinPositionLiquidity))
		req.Var("limit", params.PositionPageLimit)
		req.Var("lastID", lastID)
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		var resp struct {
			Positions []Position `json:"positions"`
		}
		if err := c.gql.Run(ctx, req, &resp); err != nil {
			return nil, fmt.Errorf("subgraph: positions query: %w", err)
		}
		out = append(out, resp.Positions...)
		if len(resp.Positions) < params.PositionPageLimit {
			return out, nil
		}
		lastID = resp.Positions[len(resp.Positions)-1].ID
	}
}
