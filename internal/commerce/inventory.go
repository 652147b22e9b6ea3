package commerce

import (
	"context"

	"github.com/machinebox/graphql"

	"retailsync/internal/ratelimit"
)

const inventoryActivateMutation = `
mutation InventoryActivate($inventoryItemId: ID!, $locationId: ID!) {
  inventoryActivate(inventoryItemId: $inventoryItemId, locationId: $locationId) {
    inventoryLevel { id }
    userErrors { field message }
  }
}`

type inventoryActivateResponse struct {
	InventoryActivate struct {
		UserErrors []userError `json:"userErrors"`
	} `json:"inventoryActivate"`
}

// ActivateInventoryTracking turns on stock tracking for a variant's
// inventory item at a location; a no-op error if already active is not
// surfaced as failure by COMMERCE, so no special casing is needed here
// (§4.12 step D).
func (c *Client) ActivateInventoryTracking(ctx context.Context, inventoryItemID, locationID string) error {
	req := graphql.NewRequest(inventoryActivateMutation)
	req.Var("inventoryItemId", inventoryItemID)
	req.Var("locationId", locationID)

	var resp inventoryActivateResponse
	if err := c.do(ctx, ratelimit.FamilyInventory, "inventoryActivate", req, &resp); err != nil {
		return err
	}
	return c.translateUserErrors(ctx, ratelimit.FamilyInventory, "inventoryActivate", resp.InventoryActivate.UserErrors)
}

const inventorySetQuantitiesMutation = `
mutation InventorySet($input: InventorySetOnHandQuantitiesInput!) {
  inventorySetOnHandQuantities(input: $input) {
    userErrors { field message }
  }
}`

type inventorySetQuantitiesResponse struct {
	InventorySetOnHandQuantities struct {
		UserErrors []userError `json:"userErrors"`
	} `json:"inventorySetOnHandQuantities"`
}

// SetInventoryOnHand sets the absolute on-hand quantity for one variant
// at one location to the RMS-reported quantity (§4.12 step D).
func (c *Client) SetInventoryOnHand(ctx context.Context, inventoryItemID, locationID string, qty int) error {
	req := graphql.NewRequest(inventorySetQuantitiesMutation)
	req.Var("input", map[string]interface{}{
		"reason": "correction",
		"setQuantities": []map[string]interface{}{
			{
				"inventoryItemId": inventoryItemID,
				"locationId":      locationID,
				"quantity":        qty,
			},
		},
	})

	var resp inventorySetQuantitiesResponse
	if err := c.do(ctx, ratelimit.FamilyInventory, "inventorySetOnHandQuantities", req, &resp); err != nil {
		return err
	}
	return c.translateUserErrors(ctx, ratelimit.FamilyInventory, "inventorySetOnHandQuantities", resp.InventorySetOnHandQuantities.UserErrors)
}
