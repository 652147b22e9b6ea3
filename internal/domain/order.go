package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChannelTypeCommerce is the fixed RMS channel_type value for orders that
// originate from the commerce platform (§3).
const ChannelTypeCommerce = 2

// OrderTypeSale is the fixed RMS order type for a standard sale (§3).
const OrderTypeSale = 1

// OrderHeader is the RMS Order row written once per ingested commerce
// order. The engine never updates it after insert.
type OrderHeader struct {
	StoreID         int
	Type            int
	Time            time.Time
	CustomerID      *int64
	Total           decimal.Decimal
	Tax             decimal.Decimal
	Comment         string
	ShippingNotes   string
	ChannelType     int
	ReferenceNumber string
}

// OrderLine is one RMS OrderEntry row.
type OrderLine struct {
	OrderID     int64
	ItemID      int64
	Description string
	Price       decimal.Decimal
	FullPrice   decimal.Decimal
	Quantity    int
}

// CustomerDraft is the input to RMSRepository.CreateCustomer.
type CustomerDraft struct {
	Email string
	Name  string
	Phone string
}

// CommerceOrderLine is one line item as returned by CommerceClient.FetchOrderByID.
type CommerceOrderLine struct {
	SKU                   string
	Title                 string
	Quantity              int
	DiscountedUnitPrice   decimal.Decimal
	OriginalUnitPrice     decimal.Decimal
}

// CommerceAddress is the subset of a shipping address used to build
// OrderHeader.ShippingNotes.
type CommerceAddress struct {
	Name     string
	Address1 string
	Address2 string
	City     string
	Province string
	Zip      string
	Country  string
}

// CommerceOrder is the full order fetched from COMMERCE, the input to
// OrderIngestPipeline (§4.13, §6.5).
type CommerceOrder struct {
	ID               string
	Name             string
	CreatedAt        time.Time
	FinancialStatus  string
	Email            string
	Total            decimal.Decimal
	Tax              decimal.Decimal
	ShippingAddress  *CommerceAddress
	Lines            []CommerceOrderLine
}

// AcceptedFinancialStatuses are the statuses §4.13 step 3 accepts.
var AcceptedFinancialStatuses = map[string]bool{
	"paid":            true,
	"partially_paid":  true,
	"authorized":      true,
}

// OrderState is the ingestion state machine of §4.13.
type OrderState string

const (
	OrderReceived  OrderState = "Received"
	OrderValidated OrderState = "Validated"
	OrderResolved  OrderState = "Resolved"
	OrderPersisted OrderState = "Persisted"
	OrderRejected  OrderState = "Rejected"
	OrderDuplicate OrderState = "Duplicate"
)

// OrderOutcome is the structured, user-visible result of ingesting one
// commerce order (§7 "Orders yield").
type OrderOutcome struct {
	Status  OrderState
	Reason  string
	OrderID int64
}
