package lightning

import (
	"context"
	"errors"
)

const (
	// invoice expiry in seconds
	InvoiceExpiryTime = 600
	FeePercent        = 0.01
)

var OutgoingPaymentNotFound = errors.New("outgoing payment not found")

// Client interface to interact with a Lightning backend
type Client interface {
	ConnectionStatus() error
	CreateInvoice(amount uint64, description string) (Invoice, error)
	InvoiceStatus(hash string) (Invoice, error)
	SubscribeInvoice(ctx context.Context, paymentHash string) (InvoiceSubscriptionClient, error)
	SendPayment(ctx context.Context, request string, maxFee uint64) (PaymentStatus, error)
	PayPartialAmount(ctx context.Context, request string, amountMsat uint64, maxFee uint64) (PaymentStatus, error)
	OutgoingPaymentStatus(ctx context.Context, paymentHash string) (PaymentStatus, error)
	FeeReserve(amount uint64) uint64
}

// OfferBackend is implemented by backends that can create reusable
// bolt12 offers. Backends that do not implement it simply do not get
// the bolt12 payment method advertised by the mint.
type OfferBackend interface {
	CreateOffer(amount uint64, description string) (Invoice, error)
	OfferStatus(offerId string) (Invoice, error)
}

type InvoiceSubscriptionClient interface {
	// Recv blocks until the subscribed invoice changes state.
	Recv() (Invoice, error)
}

type Invoice struct {
	PaymentRequest string
	PaymentHash    string
	Preimage       string
	Settled        bool
	Amount         uint64
	Expiry         uint64
}

type PaymentState int

const (
	Succeeded PaymentState = iota
	Pending
	Failed
	// Unknown means the backend could not confirm the payment outcome
	// either way. The caller must reconcile before treating the
	// payment as settled or failed.
	Unknown
)

func (state PaymentState) String() string {
	switch state {
	case Succeeded:
		return "succeeded"
	case Pending:
		return "pending"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type PaymentStatus struct {
	Preimage      string
	PaymentStatus PaymentState
}
