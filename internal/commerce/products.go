package commerce

import (
	"context"

	"github.com/machinebox/graphql"
	"github.com/shopspring/decimal"

	"retailsync/internal/domain"
	"retailsync/internal/ratelimit"
)

const productByHandleQuery = `
query ProductByHandle($handle: String!) {
  productByHandle(handle: $handle) {
    id
    title
    vendor
    productType
    status
    variants(first: 250) {
      edges {
        node {
          id
          sku
          title
          price
          compareAtPrice
          barcode
          inventoryItem { id }
        }
      }
    }
  }
}`

type productByHandleResponse struct {
	ProductByHandle *struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Vendor      string `json:"vendor"`
		ProductType string `json:"productType"`
		Status      string `json:"status"`
		Variants    struct {
			Edges []struct {
				Node struct {
					ID             string  `json:"id"`
					SKU            string  `json:"sku"`
					Title          string  `json:"title"`
					Price          string  `json:"price"`
					CompareAtPrice *string `json:"compareAtPrice"`
					Barcode        string  `json:"barcode"`
					InventoryItem  struct {
						ID string `json:"id"`
					} `json:"inventoryItem"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"variants"`
	} `json:"productByHandle"`
}

// FetchProductByHandle looks up an existing product, returning (nil, nil)
// when none exists at that handle (§4.5, §4.12 step B).
func (c *Client) FetchProductByHandle(ctx context.Context, handle string) (*domain.Product, error) {
	req := graphql.NewRequest(productByHandleQuery)
	req.Var("handle", handle)

	var resp productByHandleResponse
	if err := c.do(ctx, ratelimit.FamilyProductWrite, "productByHandle", req, &resp); err != nil {
		return nil, err
	}
	if resp.ProductByHandle == nil {
		return nil, nil
	}

	p := &domain.Product{
		Handle:      handle,
		Title:       resp.ProductByHandle.Title,
		Vendor:      resp.ProductByHandle.Vendor,
		ProductType: resp.ProductByHandle.ProductType,
		Status:      domain.ProductStatus(resp.ProductByHandle.Status),
		RemoteID:    resp.ProductByHandle.ID,
	}
	for _, edge := range resp.ProductByHandle.Variants.Edges {
		n := edge.Node
		price, _ := decimal.NewFromString(n.Price)
		v := domain.Variant{
			SKU:             n.SKU,
			Price:           price,
			Barcode:         n.Barcode,
			RemoteID:        n.ID,
			InventoryItemID: n.InventoryItem.ID,
		}
		if n.CompareAtPrice != nil {
			if compareAt, err := decimal.NewFromString(*n.CompareAtPrice); err == nil {
				v.CompareAtPrice = &compareAt
			}
		}
		p.Variants = append(p.Variants, v)
	}
	return p, nil
}

const productCreateMutation = `
mutation ProductCreate($input: ProductInput!) {
  productCreate(input: $input) {
    product { id }
    userErrors { field message }
  }
}`

type productCreateResponse struct {
	ProductCreate struct {
		Product *struct {
			ID string `json:"id"`
		} `json:"product"`
		UserErrors []userError `json:"userErrors"`
	} `json:"productCreate"`
}

// CreateProduct creates a new product shell (title/vendor/productType/
// status); variants are populated separately by BulkCreateVariants
// (§4.12 steps B, C).
func (c *Client) CreateProduct(ctx context.Context, p domain.Product) (string, error) {
	req := graphql.NewRequest(productCreateMutation)
	req.Var("input", productInput(p))

	var resp productCreateResponse
	if err := c.do(ctx, ratelimit.FamilyProductWrite, "productCreate", req, &resp); err != nil {
		return "", err
	}
	if err := c.translateUserErrors(ctx, ratelimit.FamilyProductWrite, "productCreate", resp.ProductCreate.UserErrors); err != nil {
		return "", err
	}
	return resp.ProductCreate.Product.ID, nil
}

const productUpdateMutation = `
mutation ProductUpdate($input: ProductInput!) {
  productUpdate(input: $input) {
    product { id }
    userErrors { field message }
  }
}`

type productUpdateResponse struct {
	ProductUpdate struct {
		UserErrors []userError `json:"userErrors"`
	} `json:"productUpdate"`
}

// UpdateProduct patches title/vendor/productType/status on an existing
// remote product.
func (c *Client) UpdateProduct(ctx context.Context, remoteID string, patch domain.Product) error {
	input := productInput(patch)
	input["id"] = remoteID

	req := graphql.NewRequest(productUpdateMutation)
	req.Var("input", input)

	var resp productUpdateResponse
	if err := c.do(ctx, ratelimit.FamilyProductWrite, "productUpdate", req, &resp); err != nil {
		return err
	}
	return c.translateUserErrors(ctx, ratelimit.FamilyProductWrite, "productUpdate", resp.ProductUpdate.UserErrors)
}

func productInput(p domain.Product) map[string]interface{} {
	input := map[string]interface{}{
		"title":       p.Title,
		"vendor":      p.Vendor,
		"productType": p.ProductType,
		"handle":      p.Handle,
		"status":      string(p.Status),
	}
	if p.TaxonomyID != "" {
		input["productCategory"] = map[string]interface{}{"productTaxonomyNodeId": p.TaxonomyID}
	}
	return input
}

const variantsBulkCreateMutation = `
mutation VariantsBulkCreate($productId: ID!, $variants: [ProductVariantsBulkInput!]!) {
  productVariantsBulkCreate(productId: $productId, variants: $variants) {
    productVariants {
      id
      sku
      inventoryItem { id }
    }
    userErrors { field message }
  }
}`

type variantsBulkResponse struct {
	ProductVariantsBulkCreate struct {
		ProductVariants []struct {
			ID            string `json:"id"`
			SKU           string `json:"sku"`
			InventoryItem struct {
				ID string `json:"id"`
			} `json:"inventoryItem"`
		} `json:"productVariants"`
		UserErrors []userError `json:"userErrors"`
	} `json:"productVariantsBulkCreate"`
}

// BulkCreateVariants creates every missing variant for productRemoteID in
// one call, returning them with RemoteID/InventoryItemID populated
// (§4.5, §4.12 step C).
func (c *Client) BulkCreateVariants(ctx context.Context, productRemoteID string, variants []domain.Variant) ([]domain.Variant, error) {
	req := graphql.NewRequest(variantsBulkCreateMutation)
	req.Var("productId", productRemoteID)
	req.Var("variants", variantInputs(variants))

	var resp variantsBulkResponse
	if err := c.do(ctx, ratelimit.FamilyProductWrite, "productVariantsBulkCreate", req, &resp); err != nil {
		return nil, err
	}
	if err := c.translateUserErrors(ctx, ratelimit.FamilyProductWrite, "productVariantsBulkCreate", resp.ProductVariantsBulkCreate.UserErrors); err != nil {
		return nil, err
	}

	out := make([]domain.Variant, len(variants))
	copy(out, variants)
	for i := range out {
		if i < len(resp.ProductVariantsBulkCreate.ProductVariants) {
			rv := resp.ProductVariantsBulkCreate.ProductVariants[i]
			out[i].RemoteID = rv.ID
			out[i].InventoryItemID = rv.InventoryItem.ID
		}
	}
	return out, nil
}

const variantsBulkUpdateMutation = `
mutation VariantsBulkUpdate($productId: ID!, $variants: [ProductVariantsBulkInput!]!) {
  productVariantsBulkUpdate(productId: $productId, variants: $variants) {
    userErrors { field message }
  }
}`

type variantsBulkUpdateResponse struct {
	ProductVariantsBulkUpdate struct {
		UserErrors []userError `json:"userErrors"`
	} `json:"productVariantsBulkUpdate"`
}

// BulkUpdateVariants updates price/compareAtPrice/sku for variants that
// already exist remotely (§4.12 step C; also carries the F/G sale-price
// swap since that is expressed as a variant price update).
func (c *Client) BulkUpdateVariants(ctx context.Context, productRemoteID string, variants []domain.Variant) error {
	req := graphql.NewRequest(variantsBulkUpdateMutation)
	req.Var("productId", productRemoteID)
	req.Var("variants", variantInputs(variants))

	var resp variantsBulkUpdateResponse
	if err := c.do(ctx, ratelimit.FamilyProductWrite, "productVariantsBulkUpdate", req, &resp); err != nil {
		return err
	}
	return c.translateUserErrors(ctx, ratelimit.FamilyProductWrite, "productVariantsBulkUpdate", resp.ProductVariantsBulkUpdate.UserErrors)
}

func variantInputs(variants []domain.Variant) []map[string]interface{} {
	inputs := make([]map[string]interface{}, 0, len(variants))
	for _, v := range variants {
		input := map[string]interface{}{
			"id":             v.RemoteID,
			"sku":            v.SKU,
			"price":          v.Price.StringFixed(2),
			"barcode":        v.Barcode,
			"optionValues":   []string{v.Option1, v.Option2},
		}
		if v.CompareAtPrice != nil {
			input["compareAtPrice"] = v.CompareAtPrice.StringFixed(2)
		}
		inputs = append(inputs, input)
	}
	return inputs
}
