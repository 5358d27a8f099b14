package lightning

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"

	macaroon "gopkg.in/macaroon.v2"
)

type LndConfig struct {
	RestURL      string
	TLSCertPath  string
	MacaroonPath string
}

type LndClient struct {
	config   LndConfig
	macaroon string // hex encoded
	client   *http.Client
}

func SetupLndClient(config LndConfig) (*LndClient, error) {
	macaroonBytes, err := os.ReadFile(config.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("error reading macaroon: %v", err)
	}
	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macaroonBytes); err != nil {
		return nil, fmt.Errorf("invalid macaroon: %v", err)
	}

	transport := &http.Transport{}
	if config.TLSCertPath != "" {
		cert, err := os.ReadFile(config.TLSCertPath)
		if err != nil {
			return nil, fmt.Errorf("error reading tls cert: %v", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(cert) {
			return nil, errors.New("could not parse tls cert")
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: certPool}
	}

	return &LndClient{
		config:   config,
		macaroon: hex.EncodeToString(macaroonBytes),
		client:   &http.Client{Transport: transport, Timeout: 30 * time.Second},
	}, nil
}

func (lnd *LndClient) do(ctx context.Context, method, url string, body interface{}) (*http.Response, error) {
	var jsonData []byte
	if body != nil {
		var err error
		jsonData, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Grpc-Metadata-macaroon", lnd.macaroon)
	req.Header.Set("Content-Type", "application/json")

	return lnd.client.Do(req)
}

func (lnd *LndClient) ConnectionStatus() error {
	resp, err := lnd.do(context.Background(), http.MethodGet, lnd.config.RestURL+"/v1/getinfo", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("could not get connection status from LND: %s", bodyBytes)
	}

	return nil
}

func (lnd *LndClient) CreateInvoice(amount uint64, description string) (Invoice, error) {
	body := map[string]interface{}{
		"value":  amount,
		"expiry": InvoiceExpiryTime,
		"memo":   description,
	}

	resp, err := lnd.do(context.Background(), http.MethodPost, lnd.config.RestURL+"/v1/invoices", body)
	if err != nil {
		return Invoice{}, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return Invoice{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Invoice{}, lndError(bodyBytes)
	}

	var response struct {
		PaymentRequest string `json:"payment_request"`
		RHash          string `json:"r_hash"`
	}
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return Invoice{}, err
	}

	// r_hash comes base64 encoded
	hashBytes, err := base64.StdEncoding.DecodeString(response.RHash)
	if err != nil {
		return Invoice{}, fmt.Errorf("invalid payment hash: %v", err)
	}

	return Invoice{
		PaymentRequest: response.PaymentRequest,
		PaymentHash:    hex.EncodeToString(hashBytes),
		Amount:         amount,
		Expiry:         InvoiceExpiryTime,
	}, nil
}

func (lnd *LndClient) InvoiceStatus(hash string) (Invoice, error) {
	urlHash, err := hexToURLBase64(hash)
	if err != nil {
		return Invoice{}, err
	}
	url := lnd.config.RestURL + "/v2/invoices/lookup?payment_hash=" + urlHash

	resp, err := lnd.do(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return Invoice{}, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return Invoice{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Invoice{}, lndError(bodyBytes)
	}

	var response lndInvoice
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return Invoice{}, err
	}

	return response.toInvoice(hash)
}

type lndInvoice struct {
	PaymentRequest string `json:"payment_request"`
	RPreimage      string `json:"r_preimage"`
	Value          uint64 `json:"value,string"`
	State          string `json:"state"`
	Expiry         uint64 `json:"expiry,string"`
}

func (inv lndInvoice) toInvoice(hash string) (Invoice, error) {
	var preimage string
	if inv.RPreimage != "" {
		preimageBytes, err := base64.StdEncoding.DecodeString(inv.RPreimage)
		if err != nil {
			return Invoice{}, fmt.Errorf("invalid preimage: %v", err)
		}
		preimage = hex.EncodeToString(preimageBytes)
	}

	return Invoice{
		PaymentRequest: inv.PaymentRequest,
		PaymentHash:    hash,
		Preimage:       preimage,
		Settled:        inv.State == "SETTLED",
		Amount:         inv.Value,
		Expiry:         inv.Expiry,
	}, nil
}

func (lnd *LndClient) SubscribeInvoice(ctx context.Context, paymentHash string) (InvoiceSubscriptionClient, error) {
	urlHash, err := hexToURLBase64(paymentHash)
	if err != nil {
		return nil, err
	}
	url := lnd.config.RestURL + "/v2/invoices/subscribe/" + urlHash

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Grpc-Metadata-macaroon", lnd.macaroon)

	// no timeout on the subscription stream
	streamClient := &http.Client{Transport: lnd.client.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, lndError(bodyBytes)
	}

	return &LndInvoiceSub{
		paymentHash: paymentHash,
		body:        resp.Body,
		decoder:     json.NewDecoder(resp.Body),
	}, nil
}

type LndInvoiceSub struct {
	paymentHash string
	body        io.ReadCloser
	decoder     *json.Decoder
}

func (lndSub *LndInvoiceSub) Recv() (Invoice, error) {
	// each message on the stream is a full invoice wrapped in "result"
	var message struct {
		Result lndInvoice `json:"result"`
	}
	if err := lndSub.decoder.Decode(&message); err != nil {
		lndSub.body.Close()
		return Invoice{}, err
	}

	return message.Result.toInvoice(lndSub.paymentHash)
}

func (lnd *LndClient) SendPayment(ctx context.Context, request string, maxFee uint64) (PaymentStatus, error) {
	body := map[string]interface{}{
		"payment_request": request,
		"fee_limit_sat":   maxFee,
		"timeout_seconds": 60,
	}

	resp, err := lnd.do(ctx, http.MethodPost, lnd.config.RestURL+"/v2/router/send", body)
	if err != nil {
		return PaymentStatus{PaymentStatus: Pending}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return PaymentStatus{PaymentStatus: Pending}, lndError(bodyBytes)
	}

	// the send endpoint streams payment updates until a terminal state
	status := PaymentStatus{PaymentStatus: Pending}
	decoder := json.NewDecoder(resp.Body)
	for {
		var message struct {
			Result struct {
				Status          string `json:"status"`
				PaymentPreimage string `json:"payment_preimage"`
			} `json:"result"`
		}
		if err := decoder.Decode(&message); err != nil {
			if errors.Is(err, io.EOF) {
				return status, nil
			}
			return status, err
		}

		switch message.Result.Status {
		case "SUCCEEDED":
			return PaymentStatus{
				Preimage:      message.Result.PaymentPreimage,
				PaymentStatus: Succeeded,
			}, nil
		case "FAILED":
			return PaymentStatus{PaymentStatus: Failed}, nil
		default:
			status = PaymentStatus{PaymentStatus: Pending}
		}
	}
}

func (lnd *LndClient) PayPartialAmount(
	ctx context.Context,
	request string,
	amountMsat uint64,
	maxFee uint64,
) (PaymentStatus, error) {
	return PaymentStatus{}, errors.New("partial payments not supported")
}

func (lnd *LndClient) OutgoingPaymentStatus(ctx context.Context, paymentHash string) (PaymentStatus, error) {
	urlHash, err := hexToURLBase64(paymentHash)
	if err != nil {
		return PaymentStatus{}, err
	}
	url := lnd.config.RestURL + "/v2/router/track/" + urlHash + "?no_inflight_updates=true"

	resp, err := lnd.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PaymentStatus{PaymentStatus: Pending}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return PaymentStatus{PaymentStatus: Failed}, OutgoingPaymentNotFound
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return PaymentStatus{PaymentStatus: Pending}, lndError(bodyBytes)
	}

	var message struct {
		Result struct {
			Status          string `json:"status"`
			PaymentPreimage string `json:"payment_preimage"`
		} `json:"result"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&message); err != nil {
		return PaymentStatus{PaymentStatus: Pending}, err
	}
	if message.Error.Message != "" {
		return PaymentStatus{PaymentStatus: Failed}, OutgoingPaymentNotFound
	}

	switch message.Result.Status {
	case "SUCCEEDED":
		return PaymentStatus{
			Preimage:      message.Result.PaymentPreimage,
			PaymentStatus: Succeeded,
		}, nil
	case "FAILED":
		return PaymentStatus{PaymentStatus: Failed}, nil
	default:
		return PaymentStatus{PaymentStatus: Pending}, nil
	}
}

func (lnd *LndClient) FeeReserve(amount uint64) uint64 {
	return uint64(math.Ceil(float64(amount) * FeePercent))
}

func lndError(body []byte) error {
	var errRes struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errRes); err != nil || errRes.Message == "" {
		return fmt.Errorf("lnd error: %s", body)
	}
	return errors.New(errRes.Message)
}

func hexToURLBase64(hash string) (string, error) {
	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return "", fmt.Errorf("invalid payment hash: %v", err)
	}
	return base64.URLEncoding.EncodeToString(hashBytes), nil
}
