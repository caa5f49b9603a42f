package api

import (
	"context"
	"fmt"
	"net/http"
)

type weightResp struct {
	Weight flexFloat `json:"weight"`
}

// GetWeight reads the scale. A reading the bridge cannot express as a number
// is ErrDecode.
func (c *Client) GetWeight(ctx context.Context) (float64, error) {
	var out weightResp
	if err := c.do(ctx, http.MethodGet, "/hardware/get_weight", nil, &out); err != nil {
		return 0, err
	}
	if !out.Weight.set {
		return 0, fmt.Errorf("%w: scale returned no weight", ErrDecode)
	}
	return out.Weight.v, nil
}

type latestResp struct {
	Status string `json:"status"`
	Files  map[string]struct {
		ImageURL string    `json:"image_url"`
		Weight   flexFloat `json:"weight"`
	} `json:"files"`
}

// LatestFiles returns the vision bridge's latest identification, keyed by
// fruit name. A non-success status means "nothing identified" and yields an
// empty map.
func (c *Client) LatestFiles(ctx context.Context) (map[string]Detection, error) {
	var out latestResp
	if err := c.do(ctx, http.MethodGet, c.latestPath, nil, &out); err != nil {
		return nil, err
	}

	res := make(map[string]Detection, len(out.Files))
	if out.Status != "success" {
		return res, nil
	}
	for name, f := range out.Files {
		d := Detection{ImageURL: f.ImageURL}
		if f.Weight.set {
			w := f.Weight.v
			d.Weight = &w
		}
		res[name] = d
	}
	return res, nil
}
