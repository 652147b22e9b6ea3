// Package orderingest runs the eight-step OrderIngestPipeline of §4.13,
// turning one commerce order id into an RMS order row, or a structured
// rejection/duplicate outcome when it cannot.
package orderingest

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"retailsync/internal/commerce"
	"retailsync/internal/config"
	"retailsync/internal/domain"
	"retailsync/internal/metrics"
	"retailsync/internal/rms"
)

// orderSource is the subset of commerce.Client this pipeline calls,
// narrowed to an interface the same way internal/rms narrows
// pgxQuerier, so tests can substitute a fake without a live endpoint.
type orderSource interface {
	FetchOrderByID(ctx context.Context, id string) (domain.CommerceOrder, error)
}

// orderStore is the subset of rms.Repository this pipeline calls.
type orderStore interface {
	HasOrderByReference(ctx context.Context, referenceNumber string) (bool, error)
	FindCustomerByEmail(ctx context.Context, email string) (int64, bool, error)
	CreateCustomer(ctx context.Context, draft domain.CustomerDraft) (int64, error)
	LookupItemIDBySKU(ctx context.Context, sku string) (int64, bool, error)
	InsertOrderTx(ctx context.Context, header domain.OrderHeader, lines []domain.OrderLine) (int64, error)
}

// Pipeline is the OrderIngestPipeline.
type Pipeline struct {
	commerce orderSource
	rms      orderStore
	metrics  metrics.Sink
	logger   *zap.Logger
	policy   config.OrderPolicyConfig
}

// New builds a Pipeline.
func New(commerceClient *commerce.Client, repo *rms.Repository, sink metrics.Sink, logger *zap.Logger, policy config.OrderPolicyConfig) *Pipeline {
	return &Pipeline{commerce: commerceClient, rms: repo, metrics: sink, logger: logger, policy: policy}
}

// NewForTest builds a Pipeline against the narrow orderSource/orderStore
// interfaces directly, letting tests substitute fakes for commerce.Client
// and rms.Repository.
func NewForTest(commerceClient orderSource, repo orderStore, sink metrics.Sink, logger *zap.Logger, policy config.OrderPolicyConfig) *Pipeline {
	return &Pipeline{commerce: commerceClient, rms: repo, metrics: sink, logger: logger, policy: policy}
}

// Ingest runs all eight steps for one commerce order. referenceNumber is
// the order's display name (e.g. "#1001"), known to the caller (a webhook
// payload, a CLI argument) ahead of the full GraphQL fetch, which lets
// step 1's duplicate check run before commerceOrderID is ever resolved.
func (p *Pipeline) Ingest(ctx context.Context, commerceOrderID, referenceNumber string) domain.OrderOutcome {
	// 1. Idempotency check.
	exists, err := p.rms.HasOrderByReference(ctx, referenceNumber)
	if err != nil {
		return p.reject(domain.OrderReceived, fmt.Sprintf("checking for duplicate: %v", err))
	}
	if exists {
		p.metrics.IncOrder(string(domain.OrderDuplicate))
		return domain.OrderOutcome{Status: domain.OrderDuplicate, Reason: "order already ingested"}
	}

	// 2. Fetch full order.
	order, err := p.commerce.FetchOrderByID(ctx, commerceOrderID)
	if err != nil {
		return p.reject(domain.OrderReceived, fmt.Sprintf("fetching order: %v", err))
	}

	// 3. Validate.
	if reason, ok := validate(order); !ok {
		return p.reject(domain.OrderValidated, reason)
	}

	// 4. Resolve customer.
	customerID, rejectReason, err := p.resolveCustomer(ctx, order.Email)
	if err != nil {
		return p.reject(domain.OrderValidated, fmt.Sprintf("resolving customer: %v", err))
	}
	if rejectReason != "" {
		return p.reject(domain.OrderValidated, rejectReason)
	}

	// 5. Resolve every line item's itemID; any miss rejects the whole order.
	lines, reason, err := p.resolveLines(ctx, order.Lines)
	if err != nil {
		return p.reject(domain.OrderResolved, fmt.Sprintf("resolving lines: %v", err))
	}
	if reason != "" {
		return p.reject(domain.OrderResolved, reason)
	}

	// 6. Build header.
	header := buildHeader(p.policy.StoreID, order, referenceNumber, customerID)

	// 7. Insert atomically.
	orderID, err := p.rms.InsertOrderTx(ctx, header, lines)
	if err != nil {
		return p.reject(domain.OrderResolved, fmt.Sprintf("persisting order: %v", err))
	}

	// 8. Emit metrics and structured result.
	p.metrics.IncOrder(string(domain.OrderPersisted))
	return domain.OrderOutcome{Status: domain.OrderPersisted, OrderID: orderID}
}

func (p *Pipeline) reject(at domain.OrderState, reason string) domain.OrderOutcome {
	p.logger.Warn("order rejected", zap.String("at", string(at)), zap.String("reason", reason))
	p.metrics.IncOrder(string(domain.OrderRejected))
	return domain.OrderOutcome{Status: domain.OrderRejected, Reason: reason}
}

// validate applies §4.13 step 3: accepted financial status, at least one
// line with a non-empty SKU, total > 0.
func validate(order domain.CommerceOrder) (reason string, ok bool) {
	if !domain.AcceptedFinancialStatuses[order.FinancialStatus] {
		return fmt.Sprintf("financial status %q not accepted", order.FinancialStatus), false
	}
	if !order.Total.IsPositive() {
		return "order total is not positive", false
	}
	hasSKU := false
	for _, line := range order.Lines {
		if strings.TrimSpace(line.SKU) != "" {
			hasSKU = true
			break
		}
	}
	if !hasSKU {
		return "order has no line items with a SKU", false
	}
	return "", true
}

// resolveCustomer implements §4.13 step 4 / §6.5: email lookup, then
// create, then fall back to a configured guest id, honoring
// RequireCustomerEmail.
func (p *Pipeline) resolveCustomer(ctx context.Context, email string) (*int64, string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		if p.policy.RequireCustomerEmail {
			return nil, "customer email is required but missing", nil
		}
		if p.policy.AllowOrdersWithoutCustomer {
			id := p.policy.DefaultGuestCustomerID
			return &id, "", nil
		}
		return nil, "order has no customer email and guest orders are not allowed", nil
	}

	id, found, err := p.rms.FindCustomerByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if found {
		return &id, "", nil
	}

	created, err := p.rms.CreateCustomer(ctx, domain.CustomerDraft{
		Email: email,
		Name:  p.policy.GuestCustomerName,
	})
	if err != nil {
		return nil, "", err
	}
	return &created, "", nil
}

// resolveLines implements §4.13 step 5: reject the whole order if any
// line's SKU does not resolve to an RMS item, rather than dropping the
// unresolved line, since a partial order would desynchronize inventory.
func (p *Pipeline) resolveLines(ctx context.Context, commerceLines []domain.CommerceOrderLine) ([]domain.OrderLine, string, error) {
	lines := make([]domain.OrderLine, 0, len(commerceLines))
	for _, cl := range commerceLines {
		itemID, found, err := p.rms.LookupItemIDBySKU(ctx, cl.SKU)
		if err != nil {
			return nil, "", err
		}
		if !found {
			return nil, fmt.Sprintf("no RMS item found for SKU %q", cl.SKU), nil
		}
		lines = append(lines, domain.OrderLine{
			ItemID:      itemID,
			Description: truncate(cl.Title, 255),
			Price:       cl.DiscountedUnitPrice,
			FullPrice:   cl.OriginalUnitPrice,
			Quantity:    cl.Quantity,
		})
	}
	return lines, "", nil
}

// buildHeader implements §6.5's header mapping.
func buildHeader(storeID int, order domain.CommerceOrder, referenceNumber string, customerID *int64) domain.OrderHeader {
	return domain.OrderHeader{
		StoreID:         storeID,
		Type:            domain.OrderTypeSale,
		Time:            order.CreatedAt,
		CustomerID:      customerID,
		Total:           order.Total,
		Tax:             order.Tax,
		Comment:         fmt.Sprintf("Shopify Order #%s - %s", order.Name, order.FinancialStatus),
		ShippingNotes:   formatAddress(order.ShippingAddress),
		ChannelType:     domain.ChannelTypeCommerce,
		ReferenceNumber: referenceNumber,
	}
}

// formatAddress renders a CommerceAddress as a single free-text note, or
// empty when the order has no shipping address (a digital/pickup order).
func formatAddress(addr *domain.CommerceAddress) string {
	if addr == nil {
		return ""
	}
	parts := []string{addr.Name, addr.Address1}
	if addr.Address2 != "" {
		parts = append(parts, addr.Address2)
	}
	parts = append(parts, addr.City, addr.Province, addr.Zip, addr.Country)

	var nonEmpty []string
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.Join(nonEmpty, ", ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
