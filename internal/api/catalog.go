package api

import (
	"context"
	"net/http"

	"FruitMarket/internal/cart"
)

func (c *Client) ListFruits(ctx context.Context) ([]cart.Fruit, error) {
	var out []cart.Fruit
	if err := c.do(ctx, http.MethodGet, "/fruits/", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []cart.Fruit{}
	}
	return out, nil
}
