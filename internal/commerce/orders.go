package commerce

import (
	"context"
	"fmt"

	"github.com/machinebox/graphql"
	"github.com/shopspring/decimal"

	"retailsync/internal/domain"
	"retailsync/internal/ratelimit"
)

const orderByIDQuery = `
query OrderByID($id: ID!) {
  order(id: $id) {
    id
    name
    createdAt
    displayFinancialStatus
    email
    totalPriceSet { shopMoney { amount } }
    totalTaxSet { shopMoney { amount } }
    shippingAddress {
      name
      address1
      address2
      city
      province
      zip
      country
    }
    lineItems(first: 250) {
      edges {
        node {
          sku
          title
          quantity
          discountedUnitPriceSet { shopMoney { amount } }
          originalUnitPriceSet { shopMoney { amount } }
        }
      }
    }
  }
}`

type orderByIDResponse struct {
	Order *struct {
		ID                     string `json:"id"`
		Name                   string `json:"name"`
		CreatedAt              string `json:"createdAt"`
		DisplayFinancialStatus string `json:"displayFinancialStatus"`
		Email                  string `json:"email"`
		TotalPriceSet          amountSet `json:"totalPriceSet"`
		TotalTaxSet            amountSet `json:"totalTaxSet"`
		ShippingAddress        *struct {
			Name     string `json:"name"`
			Address1 string `json:"address1"`
			Address2 string `json:"address2"`
			City     string `json:"city"`
			Province string `json:"province"`
			Zip      string `json:"zip"`
			Country  string `json:"country"`
		} `json:"shippingAddress"`
		LineItems struct {
			Edges []struct {
				Node struct {
					SKU                    string    `json:"sku"`
					Title                  string    `json:"title"`
					Quantity               int       `json:"quantity"`
					DiscountedUnitPriceSet amountSet `json:"discountedUnitPriceSet"`
					OriginalUnitPriceSet   amountSet `json:"originalUnitPriceSet"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"lineItems"`
	} `json:"order"`
}

type amountSet struct {
	ShopMoney struct {
		Amount string `json:"amount"`
	} `json:"shopMoney"`
}

func (a amountSet) decimal() decimal.Decimal {
	d, _ := decimal.NewFromString(a.ShopMoney.Amount)
	return d
}

// FetchOrderByID fetches the full order COMMERCE knows by id, the input
// to OrderIngestPipeline (§4.13, §6.3, §6.5).
func (c *Client) FetchOrderByID(ctx context.Context, id string) (domain.CommerceOrder, error) {
	req := graphql.NewRequest(orderByIDQuery)
	req.Var("id", id)

	var resp orderByIDResponse
	if err := c.do(ctx, ratelimit.FamilyOrderRead, "order", req, &resp); err != nil {
		return domain.CommerceOrder{}, err
	}
	if resp.Order == nil {
		return domain.CommerceOrder{}, fmt.Errorf("commerce order %s not found", id)
	}

	createdAt, err := parseCommerceTime(resp.Order.CreatedAt)
	if err != nil {
		return domain.CommerceOrder{}, fmt.Errorf("parse order %s createdAt: %w", id, err)
	}

	order := domain.CommerceOrder{
		ID:              resp.Order.ID,
		Name:            resp.Order.Name,
		CreatedAt:       createdAt,
		FinancialStatus: resp.Order.DisplayFinancialStatus,
		Email:           resp.Order.Email,
		Total:           resp.Order.TotalPriceSet.decimal(),
		Tax:             resp.Order.TotalTaxSet.decimal(),
	}
	if resp.Order.ShippingAddress != nil {
		sa := resp.Order.ShippingAddress
		order.ShippingAddress = &domain.CommerceAddress{
			Name:     sa.Name,
			Address1: sa.Address1,
			Address2: sa.Address2,
			City:     sa.City,
			Province: sa.Province,
			Zip:      sa.Zip,
			Country:  sa.Country,
		}
	}
	for _, edge := range resp.Order.LineItems.Edges {
		n := edge.Node
		order.Lines = append(order.Lines, domain.CommerceOrderLine{
			SKU:                 n.SKU,
			Title:               n.Title,
			Quantity:            n.Quantity,
			DiscountedUnitPrice: n.DiscountedUnitPriceSet.decimal(),
			OriginalUnitPrice:   n.OriginalUnitPriceSet.decimal(),
		})
	}
	return order, nil
}
