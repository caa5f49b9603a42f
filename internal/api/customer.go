package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// SearchCustomers looks customers up by phone. No match is an empty slice,
// whether the service answers [] or 404.
func (c *Client) SearchCustomers(ctx context.Context, phone string) ([]Customer, error) {
	var out []Customer
	err := c.do(ctx, http.MethodGet, "/customer/search/"+url.PathEscape(phone), nil, &out)
	if errors.Is(err, ErrNotFound) {
		return []Customer{}, nil
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Customer{}
	}
	return out, nil
}

func (c *Client) CreateCustomer(ctx context.Context, in NewCustomer) (Customer, error) {
	var out Customer
	if err := c.do(ctx, http.MethodPost, "/customer", in, &out); err != nil {
		return Customer{}, err
	}
	return out, nil
}

// UpdateCustomer sends the full record.
func (c *Client) UpdateCustomer(ctx context.Context, cu Customer) (Customer, error) {
	var out Customer
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/customer/%d", cu.ID), cu, &out); err != nil {
		return Customer{}, err
	}
	if out.ID == 0 {
		out = cu
	}
	return out, nil
}
