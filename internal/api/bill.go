package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
)

// CreateBill posts a completed sale. A response without an id is treated as
// a failure: the sale cannot be confirmed.
func (c *Client) CreateBill(ctx context.Context, req BillRequest) (Bill, error) {
	var out Bill
	if err := c.do(ctx, http.MethodPost, "/bill", req, &out); err != nil {
		return Bill{}, err
	}
	if out.ID == 0 {
		return Bill{}, fmt.Errorf("%w: bill response has no id", ErrDecode)
	}
	return out, nil
}

// ListBills returns bill history, newest first.
func (c *Client) ListBills(ctx context.Context) ([]Bill, error) {
	var out []Bill
	if err := c.do(ctx, http.MethodGet, "/ViewAllBill", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Bill{}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}
