package commerce

import (
	"context"

	"github.com/machinebox/graphql"
	"github.com/shopspring/decimal"

	"retailsync/internal/domain"
	"retailsync/internal/ratelimit"
)

// toHundred converts a whole percent value (e.g. 15) into the 0-1
// fraction COMMERCE's discount API expects.
var toHundred = decimal.NewFromInt(100)

const discountAutomaticCreateMutation = `
mutation DiscountCreate($automaticBasicDiscount: DiscountAutomaticBasicInput!) {
  discountAutomaticBasicCreate(automaticBasicDiscount: $automaticBasicDiscount) {
    automaticDiscountNode { id }
    userErrors { field message }
  }
}`

type discountAutomaticCreateResponse struct {
	DiscountAutomaticBasicCreate struct {
		AutomaticDiscountNode *struct {
			ID string `json:"id"`
		} `json:"automaticDiscountNode"`
		UserErrors []userError `json:"userErrors"`
	} `json:"discountAutomaticBasicCreate"`
}

// CreateAutomaticDiscount creates one percentage-off automatic discount
// bounded by StartsAt/EndsAt, keyed for idempotency by d.ExternalRef
// (§4.12 step H).
func (c *Client) CreateAutomaticDiscount(ctx context.Context, d domain.Discount) (string, error) {
	req := graphql.NewRequest(discountAutomaticCreateMutation)
	req.Var("automaticBasicDiscount", map[string]interface{}{
		"title":      d.ExternalRef,
		"startsAt":   d.StartsAt,
		"endsAt":     d.EndsAt,
		"customerGets": map[string]interface{}{
			"value": map[string]interface{}{
				"percentage": d.Percent.Div(toHundred).InexactFloat64(),
			},
			"items": map[string]interface{}{
				"products": map[string]interface{}{
					"productVariantsToAdd": d.VariantRefs,
				},
			},
		},
	})

	var resp discountAutomaticCreateResponse
	if err := c.do(ctx, ratelimit.FamilyDiscount, "discountAutomaticBasicCreate", req, &resp); err != nil {
		return "", err
	}
	if err := c.translateUserErrors(ctx, ratelimit.FamilyDiscount, "discountAutomaticBasicCreate", resp.DiscountAutomaticBasicCreate.UserErrors); err != nil {
		return "", err
	}
	return resp.DiscountAutomaticBasicCreate.AutomaticDiscountNode.ID, nil
}

const discountByTitleQuery = `
query DiscountByTitle($query: String!) {
  discountNodes(first: 1, query: $query) {
    edges { node { id } }
  }
}`

type discountByTitleResponse struct {
	DiscountNodes struct {
		Edges []struct {
			Node struct {
				ID string `json:"id"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"discountNodes"`
}

// FindDiscountByExternalRef looks up an existing automatic discount by its
// idempotency title, returning ("", false, nil) when none exists (§4.12
// step H).
func (c *Client) FindDiscountByExternalRef(ctx context.Context, externalRef string) (string, bool, error) {
	req := graphql.NewRequest(discountByTitleQuery)
	req.Var("query", "title:"+externalRef)

	var resp discountByTitleResponse
	if err := c.do(ctx, ratelimit.FamilyDiscount, "discountNodes", req, &resp); err != nil {
		return "", false, err
	}
	if len(resp.DiscountNodes.Edges) == 0 {
		return "", false, nil
	}
	return resp.DiscountNodes.Edges[0].Node.ID, true, nil
}

const discountAutomaticUpdateMutation = `
mutation DiscountUpdate($id: ID!, $automaticBasicDiscount: DiscountAutomaticBasicInput!) {
  discountAutomaticBasicUpdate(id: $id, automaticBasicDiscount: $automaticBasicDiscount) {
    userErrors { field message }
  }
}`

type discountAutomaticUpdateResponse struct {
	DiscountAutomaticBasicUpdate struct {
		UserErrors []userError `json:"userErrors"`
	} `json:"discountAutomaticBasicUpdate"`
}

// UpdateAutomaticDiscount updates the dates/percent of an existing
// automatic discount in place, the §4.12 step H idempotency path taken
// when FindDiscountByExternalRef already found one.
func (c *Client) UpdateAutomaticDiscount(ctx context.Context, remoteID string, d domain.Discount) error {
	req := graphql.NewRequest(discountAutomaticUpdateMutation)
	req.Var("id", remoteID)
	req.Var("automaticBasicDiscount", map[string]interface{}{
		"startsAt": d.StartsAt,
		"endsAt":   d.EndsAt,
		"customerGets": map[string]interface{}{
			"value": map[string]interface{}{
				"percentage": d.Percent.Div(toHundred).InexactFloat64(),
			},
		},
	})

	var resp discountAutomaticUpdateResponse
	if err := c.do(ctx, ratelimit.FamilyDiscount, "discountAutomaticBasicUpdate", req, &resp); err != nil {
		return err
	}
	return c.translateUserErrors(ctx, ratelimit.FamilyDiscount, "discountAutomaticBasicUpdate", resp.DiscountAutomaticBasicUpdate.UserErrors)
}
