package lightning

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

const (
	FakePreimage = "0000000000000000"
)

type FakeBackend struct {
	invoices []Invoice
	offers   []Invoice

	// PaymentOutcome is what SendPayment and PayPartialAmount report.
	// The zero value reports Succeeded.
	PaymentOutcome PaymentState
	PaymentErr     error
	// OutgoingOutcome overrides what OutgoingPaymentStatus reports when set.
	OutgoingOutcome *PaymentState
}

func (fb *FakeBackend) ConnectionStatus() error { return nil }

func (fb *FakeBackend) CreateInvoice(amount uint64, description string) (Invoice, error) {
	req, preimage, paymentHash, err := createFakeInvoice(amount, description)
	if err != nil {
		return Invoice{}, err
	}

	invoice := Invoice{
		PaymentRequest: req,
		PaymentHash:    paymentHash,
		Preimage:       preimage,
		Settled:        true,
		Amount:         amount,
		Expiry:         uint64(time.Now().Unix()),
	}
	fb.invoices = append(fb.invoices, invoice)

	return invoice, nil
}

func (fb *FakeBackend) InvoiceStatus(hash string) (Invoice, error) {
	invoiceIdx := slices.IndexFunc(fb.invoices, func(i Invoice) bool {
		return i.PaymentHash == hash
	})
	if invoiceIdx == -1 {
		return Invoice{}, errors.New("invoice does not exist")
	}

	return fb.invoices[invoiceIdx], nil
}

func (fb *FakeBackend) SubscribeInvoice(ctx context.Context, paymentHash string) (InvoiceSubscriptionClient, error) {
	return &fakeInvoiceSub{fb: fb, paymentHash: paymentHash}, nil
}

type fakeInvoiceSub struct {
	fb          *FakeBackend
	paymentHash string
}

func (sub *fakeInvoiceSub) Recv() (Invoice, error) {
	return sub.fb.InvoiceStatus(sub.paymentHash)
}

func (fb *FakeBackend) SendPayment(ctx context.Context, request string, maxFee uint64) (PaymentStatus, error) {
	if fb.PaymentErr != nil {
		return PaymentStatus{PaymentStatus: Unknown}, fb.PaymentErr
	}

	invoice, err := decodepay.Decodepay(request)
	if err != nil {
		return PaymentStatus{PaymentStatus: Failed}, fmt.Errorf("error decoding invoice: %v", err)
	}
	if fb.PaymentOutcome != Succeeded {
		return PaymentStatus{PaymentStatus: fb.PaymentOutcome}, nil
	}

	outgoingPayment := Invoice{
		PaymentRequest: request,
		PaymentHash:    invoice.PaymentHash,
		Preimage:       FakePreimage,
		Settled:        true,
	}
	fb.invoices = append(fb.invoices, outgoingPayment)

	return PaymentStatus{
		Preimage:      FakePreimage,
		PaymentStatus: Succeeded,
	}, nil
}

func (fb *FakeBackend) PayPartialAmount(
	ctx context.Context,
	request string,
	amountMsat uint64,
	maxFee uint64,
) (PaymentStatus, error) {
	return fb.SendPayment(ctx, request, maxFee)
}

func (fb *FakeBackend) OutgoingPaymentStatus(ctx context.Context, hash string) (PaymentStatus, error) {
	if fb.OutgoingOutcome != nil {
		return PaymentStatus{PaymentStatus: *fb.OutgoingOutcome}, nil
	}

	invoiceIdx := slices.IndexFunc(fb.invoices, func(i Invoice) bool {
		return i.PaymentHash == hash
	})
	if invoiceIdx == -1 {
		return PaymentStatus{PaymentStatus: Failed}, OutgoingPaymentNotFound
	}

	return PaymentStatus{
		Preimage:      fb.invoices[invoiceIdx].Preimage,
		PaymentStatus: Succeeded,
	}, nil
}

func (fb *FakeBackend) FeeReserve(amount uint64) uint64 {
	return 0
}

func (fb *FakeBackend) CreateOffer(amount uint64, description string) (Invoice, error) {
	var random [32]byte
	if _, err := rand.Read(random[:]); err != nil {
		return Invoice{}, err
	}
	offerId := hex.EncodeToString(random[:])

	// Amount on the stored offer tracks the total paid, not the
	// amount the offer was created with.
	offer := Invoice{
		PaymentRequest: "lno1fake" + offerId[:32],
		PaymentHash:    offerId,
	}
	fb.offers = append(fb.offers, offer)

	return offer, nil
}

func (fb *FakeBackend) OfferStatus(offerId string) (Invoice, error) {
	offerIdx := slices.IndexFunc(fb.offers, func(i Invoice) bool {
		return i.PaymentHash == offerId
	})
	if offerIdx == -1 {
		return Invoice{}, errors.New("offer does not exist")
	}

	return fb.offers[offerIdx], nil
}

// PayOffer simulates an incoming payment to a previously created offer.
func (fb *FakeBackend) PayOffer(offerId string, amount uint64) error {
	offerIdx := slices.IndexFunc(fb.offers, func(i Invoice) bool {
		return i.PaymentHash == offerId
	})
	if offerIdx == -1 {
		return errors.New("offer does not exist")
	}

	fb.offers[offerIdx].Settled = true
	fb.offers[offerIdx].Amount += amount
	return nil
}

func createFakeInvoice(amount uint64, description string) (string, string, string, error) {
	var random [32]byte
	_, err := rand.Read(random[:])
	if err != nil {
		return "", "", "", err
	}
	preimage := hex.EncodeToString(random[:])
	paymentHash := sha256.Sum256(random[:])
	hash := hex.EncodeToString(paymentHash[:])

	if description == "" {
		description = "test"
	}
	invoice, err := zpay32.NewInvoice(
		&chaincfg.SigNetParams,
		paymentHash,
		time.Now(),
		zpay32.Amount(lnwire.MilliSatoshi(amount*1000)),
		zpay32.Description(description),
	)
	if err != nil {
		return "", "", "", err
	}

	invoiceStr, err := invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			key, err := secp256k1.GeneratePrivateKey()
			if err != nil {
				return []byte{}, err
			}
			return ecdsa.SignCompact(key, msg, true), nil
		},
	})
	if err != nil {
		return "", "", "", err
	}

	return invoiceStr, preimage, hash, nil
}
