package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Provider string

const (
	ProviderMercadoPago Provider = "mercadopago"
	ProviderPicPay      Provider = "picpay"
)

// PicPayReferencePrefix namespaces PicPay references stored on orders so they
// never collide with Mercado Pago payment ids.
const PicPayReferencePrefix = "picpay_"

func (p Provider) Valid() bool {
	return p == ProviderMercadoPago || p == ProviderPicPay
}

// ReferencePrefix is prepended to the provider reference written on an order.
func (p Provider) ReferencePrefix() string {
	if p == ProviderPicPay {
		return PicPayReferencePrefix
	}
	return ""
}

// ProviderFromReference recovers the provider and raw reference from a
// prefixed order payment reference. Rows written before the explicit provider
// column existed only carry the prefix.
func ProviderFromReference(ref string) (Provider, string) {
	if strings.HasPrefix(ref, PicPayReferencePrefix) {
		return ProviderPicPay, strings.TrimPrefix(ref, PicPayReferencePrefix)
	}
	return ProviderMercadoPago, ref
}

type PendingStatus string

const (
	PendingStatusPending    PendingStatus = "pending"
	PendingStatusProcessing PendingStatus = "processing"
	PendingStatusCompleted  PendingStatus = "completed"
	PendingStatusCancelled  PendingStatus = "cancelled"
)

type PendingPayment struct {
	ID                string
	CompanyID         string
	Provider          Provider
	Status            PendingStatus
	ProviderReference string
	OrderPayload      OrderPayload
	OrderID           *string
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderPayload is the order-to-be-created captured at checkout.
type OrderPayload struct {
	CustomerName    string          `json:"customer_name"`
	CustomerPhone   string          `json:"customer_phone,omitempty"`
	CustomerEmail   string          `json:"customer_email,omitempty"`
	DeliveryType    string          `json:"delivery_type,omitempty"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	TableNumber     string          `json:"table_number,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	CouponID        string          `json:"coupon_id,omitempty"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	Items           []PayloadItem   `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DeliveryFee     decimal.Decimal `json:"delivery_fee"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
}

type PayloadItem struct {
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name,omitempty"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	SelectedOptions json.RawMessage `json:"selected_options,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type OrderPaymentStatus string

const (
	PaymentStatusPaid              OrderPaymentStatus = "paid"
	PaymentStatusPending           OrderPaymentStatus = "pending"
	PaymentStatusFailed            OrderPaymentStatus = "failed"
	PaymentStatusRefunded          OrderPaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded OrderPaymentStatus = "partially_refunded"
)

type Order struct {
	ID                    string
	CompanyID             string
	CustomerName          string
	CustomerPhone         string
	CustomerEmail         string
	DeliveryType          string
	DeliveryAddress       string
	TableNumber           string
	Notes                 string
	CouponID              string
	Status                OrderStatus
	PaymentStatus         OrderPaymentStatus
	PaymentMethod         string
	PaymentProvider       Provider
	PaymentReference      string
	Subtotal              decimal.Decimal
	DeliveryFee           decimal.Decimal
	Discount              decimal.Decimal
	Total                 decimal.Decimal
	EstimatedDeliveryTime time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type OrderItem struct {
	ID              string
	OrderID         string
	ProductID       string
	ProductName     string
	Quantity        int
	UnitPrice       decimal.Decimal
	TotalPrice      decimal.Decimal
	SelectedOptions json.RawMessage
	Notes           string
}

type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "pending"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
	RefundStatusFailed     RefundStatus = "failed"
	RefundStatusRejected   RefundStatus = "rejected"
)

type RefundKind string

const (
	RefundKindOrder        RefundKind = "order"
	RefundKindSubscription RefundKind = "subscription"
)

// LegacySubscriptionNamePrefix marked subscription refunds through the
// customer name before RefundRequest.Kind existed.
const LegacySubscriptionNamePrefix = "Subscription - "

type RefundRequest struct {
	ID              string
	CompanyID       string
	Kind            RefundKind
	OrderID         *string
	PaymentID       string
	Provider        Provider
	CustomerName    string
	CustomerEmail   string
	RequestedAmount decimal.Decimal
	OriginalAmount  decimal.Decimal
	Reason          string
	Status          RefundStatus
	ReviewedBy      *string
	ReviewedAt      *time.Time
	RejectionReason *string
	RefundID        *string
	ErrorMessage    *string
	ProcessedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EffectiveKind prefers the explicit kind and falls back to the legacy name
// convention for rows that predate it.
func (r *RefundRequest) EffectiveKind() RefundKind {
	if r.Kind != "" {
		return r.Kind
	}
	if strings.HasPrefix(r.CustomerName, LegacySubscriptionNamePrefix) {
		return RefundKindSubscription
	}
	return RefundKindOrder
}

// EffectiveProvider prefers the explicit provider and falls back to the
// reference prefix.
func (r *RefundRequest) EffectiveProvider() (Provider, string) {
	if r.Provider.Valid() {
		return r.Provider, strings.TrimPrefix(r.PaymentID, r.Provider.ReferencePrefix())
	}
	return ProviderFromReference(r.PaymentID)
}

// IsFull reports whether the requested amount covers the whole charge.
func (r *RefundRequest) IsFull() bool {
	return r.RequestedAmount.GreaterThanOrEqual(r.OriginalAmount)
}

type Credential struct {
	CompanyID    string
	Provider     Provider
	AccessToken  string
	ClientID     string
	ClientSecret string
}

type SubscriptionPaymentStatus string

const (
	SubscriptionPaymentPending   SubscriptionPaymentStatus = "pending"
	SubscriptionPaymentPaid      SubscriptionPaymentStatus = "paid"
	SubscriptionPaymentCancelled SubscriptionPaymentStatus = "cancelled"
	SubscriptionPaymentRefunded  SubscriptionPaymentStatus = "refunded"
)

type SubscriptionPayment struct {
	ID                string
	CompanyID         string
	PlanID            string
	ProviderReference string
	Amount            decimal.Decimal
	Status            SubscriptionPaymentStatus
	PaidAt            *time.Time
	CreatedAt         time.Time
}

type Notification struct {
	ID        string
	CompanyID string
	Type      string
	Title     string
	Message   string
	CreatedAt time.Time
}

type AuditEntry struct {
	ID         string
	Action     string
	EntityType string
	EntityID   string
	ActorID    string
	Details    map[string]any
	CreatedAt  time.Time
}
