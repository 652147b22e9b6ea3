package commerce

import (
	"context"
	"strings"

	"github.com/machinebox/graphql"

	"retailsync/internal/ratelimit"
)

const collectionCreateMutation = `
mutation CollectionCreate($input: CollectionInput!) {
  collectionCreate(input: $input) {
    collection { id }
    userErrors { field message }
  }
}`

type collectionCreateResponse struct {
	CollectionCreate struct {
		Collection *struct {
			ID string `json:"id"`
		} `json:"collection"`
		UserErrors []userError `json:"userErrors"`
	} `json:"collectionCreate"`
}

// EnsureCollection returns the ID of the collection named name. On a cache
// miss it issues collectionCreate (collType is a label only — both
// categoria and familia collections are plain manual collections); it does
// not look up an existing collection with that title first. Created IDs
// are memoized in this client's cache by normalized name, so later calls
// for the same name skip the remote call (§4.12 step I).
func (c *Client) EnsureCollection(ctx context.Context, name, collType string) (string, error) {
	key := normalizeCollectionName(name)
	if id, ok := c.collectionCache.Get(key); ok {
		return id, nil
	}

	req := graphql.NewRequest(collectionCreateMutation)
	req.Var("input", map[string]interface{}{"title": name})

	var resp collectionCreateResponse
	if err := c.do(ctx, ratelimit.FamilyCollection, "collectionCreate", req, &resp); err != nil {
		return "", err
	}
	// Any userError, a duplicate title included, is returned as an error;
	// the ID of an already existing collection is not recovered here.
	if resp.CollectionCreate.Collection == nil {
		return "", c.translateUserErrors(ctx, ratelimit.FamilyCollection, "collectionCreate", resp.CollectionCreate.UserErrors)
	}

	id := resp.CollectionCreate.Collection.ID
	c.collectionCache.Add(key, id)
	return id, nil
}

func normalizeCollectionName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

const collectionAddProductsMutation = `
mutation CollectionAddProducts($id: ID!, $productIds: [ID!]!) {
  collectionAddProducts(id: $id, productIds: $productIds) {
    collection { id }
    userErrors { field message }
  }
}`

type collectionAddProductsResponse struct {
	CollectionAddProducts struct {
		UserErrors []userError `json:"userErrors"`
	} `json:"collectionAddProducts"`
}

// AddProductsToCollection attaches productIDs to collectionID; COMMERCE
// treats re-adding an already-attached product as a no-op, keeping this
// idempotent across runs.
func (c *Client) AddProductsToCollection(ctx context.Context, collectionID string, productIDs []string) error {
	if len(productIDs) == 0 {
		return nil
	}
	req := graphql.NewRequest(collectionAddProductsMutation)
	req.Var("id", collectionID)
	req.Var("productIds", productIDs)

	var resp collectionAddProductsResponse
	if err := c.do(ctx, ratelimit.FamilyCollection, "collectionAddProducts", req, &resp); err != nil {
		return err
	}
	return c.translateUserErrors(ctx, ratelimit.FamilyCollection, "collectionAddProducts", resp.CollectionAddProducts.UserErrors)
}
