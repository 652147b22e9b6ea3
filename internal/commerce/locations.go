package commerce

import (
	"context"
	"fmt"

	"github.com/machinebox/graphql"

	"retailsync/internal/domain"
	"retailsync/internal/ratelimit"
)

const locationsQuery = `
query Locations {
  locations(first: 50) {
    edges {
      node {
        id
        name
        isActive
      }
    }
  }
}`

type locationsResponse struct {
	Locations struct {
		Edges []struct {
			Node struct {
				ID       string `json:"id"`
				Name     string `json:"name"`
				IsActive bool   `json:"isActive"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"locations"`
}

// GetLocations lists every fulfillment location COMMERCE knows about (§4.5).
func (c *Client) GetLocations(ctx context.Context) ([]domain.Location, error) {
	var resp locationsResponse
	req := graphql.NewRequest(locationsQuery)
	if err := c.do(ctx, ratelimit.FamilyInventory, "locations", req, &resp); err != nil {
		return nil, err
	}

	locs := make([]domain.Location, 0, len(resp.Locations.Edges))
	primarySet := false
	for _, edge := range resp.Locations.Edges {
		primary := !primarySet && edge.Node.IsActive
		if primary {
			primarySet = true
		}
		locs = append(locs, domain.Location{
			ID:      edge.Node.ID,
			Name:    edge.Node.Name,
			Primary: primary,
		})
	}
	return locs, nil
}

// PrimaryLocation returns the first active location, the target of every
// SetInventoryOnHand call (§4.5, §4.12 step D).
func (c *Client) PrimaryLocation(ctx context.Context) (domain.Location, error) {
	locs, err := c.GetLocations(ctx)
	if err != nil {
		return domain.Location{}, err
	}
	for _, l := range locs {
		if l.Primary {
			return l, nil
		}
	}
	if len(locs) > 0 {
		return locs[0], nil
	}
	return domain.Location{}, fmt.Errorf("commerce shop has no locations")
}
