package mint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/asmogo/cdk/cashu"
	"github.com/asmogo/cdk/cashu/nuts/nut01"
	"github.com/asmogo/cdk/cashu/nuts/nut02"
	"github.com/asmogo/cdk/cashu/nuts/nut03"
	"github.com/asmogo/cdk/cashu/nuts/nut04"
	"github.com/asmogo/cdk/cashu/nuts/nut05"
	"github.com/asmogo/cdk/cashu/nuts/nut07"
	"github.com/asmogo/cdk/cashu/nuts/nut09"
	"github.com/asmogo/cdk/cashu/nuts/nut23"
	"github.com/asmogo/cdk/cashu/nuts/nut25"
	"github.com/asmogo/cdk/mint/storage"
	"github.com/gorilla/mux"
)

type MintServer struct {
	httpServer       *http.Server
	mint             *Mint
	cache            *Cache
	websocketManager *WebsocketManager
}

func SetupMintServer(config Config) (*MintServer, error) {
	m, err := SetupMint(config)
	if err != nil {
		return nil, err
	}

	mintServer := &MintServer{mint: m, cache: NewCache()}
	mintServer.websocketManager = NewWebSocketManager(m)
	mintServer.setupHttpServer(config.Port)
	return mintServer, nil
}

// Mint returns the mint the server is serving.
func (ms *MintServer) Mint() *Mint {
	return ms.mint
}

func StartMintServer(server *MintServer) error {
	server.mint.logInfof("mint server listening on %v", server.httpServer.Addr)
	if err := server.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (ms *MintServer) Shutdown() error {
	if err := ms.httpServer.Shutdown(context.Background()); err != nil {
		return err
	}
	ms.mint.Shutdown()
	return nil
}

func (ms *MintServer) setupHttpServer(port string) {
	r := mux.NewRouter()

	r.HandleFunc("/v1/keys", ms.getActiveKeysets).Methods(http.MethodGet)
	r.HandleFunc("/v1/keys/{id}", ms.getKeysetById).Methods(http.MethodGet)
	r.HandleFunc("/v1/keysets", ms.getKeysetsList).Methods(http.MethodGet)
	r.HandleFunc("/v1/mint/quote/{method}", ms.mintQuoteRequest).Methods(http.MethodPost)
	r.HandleFunc("/v1/mint/quote/{method}/{quote_id}", ms.mintQuoteState).Methods(http.MethodGet)
	r.HandleFunc("/v1/mint/{method}", ms.cachedHandler(ms.mintTokensRequest)).Methods(http.MethodPost)
	r.HandleFunc("/v1/swap", ms.cachedHandler(ms.swapRequest)).Methods(http.MethodPost)
	r.HandleFunc("/v1/melt/quote/{method}", ms.meltQuoteRequest).Methods(http.MethodPost)
	r.HandleFunc("/v1/melt/quote/{method}/{quote_id}", ms.meltQuoteState).Methods(http.MethodGet)
	r.HandleFunc("/v1/melt/{method}", ms.cachedHandler(ms.meltTokensRequest)).Methods(http.MethodPost)
	r.HandleFunc("/v1/checkstate", ms.checkProofsState).Methods(http.MethodPost)
	r.HandleFunc("/v1/restore", ms.restoreSignatures).Methods(http.MethodPost)
	r.HandleFunc("/v1/info", ms.mintInfo).Methods(http.MethodGet)
	r.HandleFunc("/v1/ws", ms.websocketManager.serveWS)

	if len(port) == 0 {
		port = "3338"
	}
	ms.httpServer = &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
}

func (ms *MintServer) writeResponse(rw http.ResponseWriter, response []byte) {
	rw.Header().Set("Content-Type", "application/json")
	rw.Write(response)
}

func (ms *MintServer) writeError(rw http.ResponseWriter, err error) {
	var cashuErr *cashu.Error
	switch e := err.(type) {
	case *cashu.Error:
		cashuErr = e
	case cashu.Error:
		cashuErr = &e
	default:
		cashuErr = cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
	}
	ms.mint.logDebugf("request error: %v", cashuErr.Detail)

	response, marshalErr := json.Marshal(cashuErr)
	if marshalErr != nil {
		http.Error(rw, "unable to process request", http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusBadRequest)
	rw.Write(response)
}

// cachedHandler replays the stored response for a request the mint
// already processed. Only successful responses get stored, so a
// client keeps its signatures if the first response got lost on the
// way back.
func (ms *MintServer) cachedHandler(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		if ms.cache == nil {
			next(rw, req)
			return
		}

		body, err := io.ReadAll(req.Body)
		if err != nil {
			ms.writeError(rw, cashu.StandardErr)
			return
		}
		req.Body = io.NopCloser(bytes.NewReader(body))

		key := cacheKey(req.URL.Path, body)
		if cached, ok := ms.cache.Get(key); ok {
			ms.writeResponse(rw, cached)
			return
		}

		recorder := &responseRecorder{ResponseWriter: rw, status: http.StatusOK}
		next(recorder, req)
		if recorder.status == http.StatusOK {
			ms.cache.Put(key, recorder.body.Bytes())
		}
	}
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rec *responseRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *responseRecorder) Write(response []byte) (int, error) {
	rec.body.Write(response)
	return rec.ResponseWriter.Write(response)
}

func (ms *MintServer) getActiveKeysets(rw http.ResponseWriter, req *http.Request) {
	activeKeyset := ms.mint.GetActiveKeyset()
	keysResponse := nut01.GetKeysResponse{
		Keysets: []nut01.Keyset{
			{
				Id:   activeKeyset.Id,
				Unit: activeKeyset.Unit,
				Keys: activeKeyset.PublicKeys(),
			},
		},
	}

	response, err := json.Marshal(keysResponse)
	if err != nil {
		ms.writeError(rw, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, response)
}

func (ms *MintServer) getKeysetById(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	keyset, ok := ms.mint.GetKeysets()[vars["id"]]
	if !ok {
		ms.writeError(rw, cashu.UnknownKeysetErr)
		return
	}

	keysResponse := nut01.GetKeysResponse{
		Keysets: []nut01.Keyset{
			{
				Id:   keyset.Id,
				Unit: keyset.Unit,
				Keys: keyset.PublicKeys(),
			},
		},
	}

	response, err := json.Marshal(keysResponse)
	if err != nil {
		ms.writeError(rw, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, response)
}

func (ms *MintServer) getKeysetsList(rw http.ResponseWriter, req *http.Request) {
	keysets := ms.mint.GetKeysets()
	keysetsResponse := nut02.GetKeysetsResponse{Keysets: make([]nut02.Keyset, 0, len(keysets))}
	for _, keyset := range keysets {
		keysetsResponse.Keysets = append(keysetsResponse.Keysets, nut02.Keyset{
			Id:          keyset.Id,
			Unit:        keyset.Unit,
			Active:      keyset.Active,
			InputFeePpk: keyset.InputFeePpk,
		})
	}

	response, err := json.Marshal(keysetsResponse)
	if err != nil {
		ms.writeError(rw, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, response)
}

func (ms *MintServer) mintQuoteRequest(rw http.ResponseWriter, req *http.Request) {
	method := mux.Vars(req)["method"]

	switch cashu.PaymentMethod(method) {
	case cashu.Bolt11:
		var quoteRequest nut23.PostMintQuoteBolt11Request
		if err := json.NewDecoder(req.Body).Decode(&quoteRequest); err != nil {
			ms.writeError(rw, cashu.BuildCashuError("unable to parse request body", cashu.StandardErrCode))
			return
		}

		var options []QuoteOption
		if len(quoteRequest.Method.Description) > 0 {
			options = append(options, WithDescription(quoteRequest.Method.Description))
		}
		if len(quoteRequest.Method.Pubkey) > 0 {
			options = append(options, WithPubkey(quoteRequest.Method.Pubkey))
		}

		quote, err := ms.mint.RequestMintQuote(method, quoteRequest.Amount, quoteRequest.Unit.String(), options...)
		if err != nil {
			ms.writeError(rw, err)
			return
		}
		ms.writeQuoteResponse(rw, mintQuoteBolt11Response(quote))

	case cashu.Bolt12:
		var quoteRequest nut25.PostMintQuoteBolt12Request
		if err := json.NewDecoder(req.Body).Decode(&quoteRequest); err != nil {
			ms.writeError(rw, cashu.BuildCashuError("unable to parse request body", cashu.StandardErrCode))
			return
		}

		options := []QuoteOption{WithPubkey(quoteRequest.Method.Pubkey)}
		if len(quoteRequest.Method.Description) > 0 {
			options = append(options, WithDescription(quoteRequest.Method.Description))
		}

		quote, err := ms.mint.RequestMintQuote(method, quoteRequest.Amount, quoteRequest.Unit.String(), options...)
		if err != nil {
			ms.writeError(rw, err)
			return
		}
		ms.writeQuoteResponse(rw, mintQuoteBolt12Response(quote))

	default:
		ms.writeError(rw, cashu.PaymentMethodNotSupportedErr)
	}
}

func (ms *MintServer) mintQuoteState(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	method := vars["method"]

	quote, err := ms.mint.GetMintQuoteState(method, vars["quote_id"])
	if err != nil {
		ms.writeError(rw, err)
		return
	}

	if quote.PaymentMethod == cashu.Bolt12 {
		ms.writeQuoteResponse(rw, mintQuoteBolt12Response(quote))
		return
	}
	ms.writeQuoteResponse(rw, mintQuoteBolt11Response(quote))
}

func (ms *MintServer) mintTokensRequest(rw http.ResponseWriter, req *http.Request) {
	method := mux.Vars(req)["method"]

	var mintRequest nut04.PostMintRequest
	if err := json.NewDecoder(req.Body).Decode(&mintRequest); err != nil {
		ms.writeError(rw, cashu.BuildCashuError("unable to parse request body", cashu.StandardErrCode))
		return
	}

	var options []MintOption
	if len(mintRequest.Signature) > 0 {
		options = append(options, WithSignature(mintRequest.Signature))
	}

	signatures, err := ms.mint.MintTokens(method, mintRequest.Quote, mintRequest.Outputs, options...)
	if err != nil {
		ms.writeError(rw, err)
		return
	}

	response, err := json.Marshal(nut04.PostMintResponse{Signatures: signatures})
	if err != nil {
		ms.writeError(rw, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, response)
}

func (ms *MintServer) swapRequest(rw http.ResponseWriter, req *http.Request) {
	var swapRequest nut03.PostSwapRequest
	if err := json.NewDecoder(req.Body).Decode(&swapRequest); err != nil {
		ms.writeError(rw, cashu.BuildCashuError("unable to parse request body", cashu.StandardErrCode))
		return
	}

	signatures, err := ms.mint.Swap(swapRequest.Inputs, swapRequest.Outputs)
	if err != nil {
		ms.writeError(rw, err)
		return
	}

	response, err := json.Marshal(nut03.PostSwapResponse{Signatures: signatures})
	if err != nil {
		ms.writeError(rw, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, response)
}

func (ms *MintServer) meltQuoteRequest(rw http.ResponseWriter, req *http.Request) {
	method := mux.Vars(req)["method"]
	if cashu.PaymentMethod(method) != cashu.Bolt11 {
		ms.writeError(rw, cashu.PaymentMethodNotSupportedErr)
		return
	}

	var quoteRequest nut23.PostMeltQuoteBolt11Request
	if err := json.NewDecoder(req.Body).Decode(&quoteRequest); err != nil {
		ms.writeError(rw, cashu.BuildCashuError("unable to parse request body", cashu.StandardErrCode))
		return
	}

	var options []QuoteOption
	if meltOptions := quoteRequest.Method.Options; meltOptions != nil {
		if meltOptions.Mpp != nil {
			options = append(options, WithMppAmountMsat(meltOptions.Mpp.Amount))
		}
		if meltOptions.Amountless != nil {
			options = append(options, WithAmountMsat(meltOptions.Amountless.AmountMsat))
		}
	}

	quote, err := ms.mint.RequestMeltQuote(method, quoteRequest.Request, quoteRequest.Unit.String(), options...)
	if err != nil {
		ms.writeError(rw, err)
		return
	}
	ms.writeQuoteResponse(rw, meltQuoteBolt11Response(quote, nil))
}

func (ms *MintServer) meltQuoteState(rw http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	quote, err := ms.mint.GetMeltQuoteState(req.Context(), vars["method"], vars["quote_id"])
	if err != nil {
		ms.writeError(rw, err)
		return
	}
	ms.writeQuoteResponse(rw, meltQuoteBolt11Response(quote, nil))
}

func (ms *MintServer) meltTokensRequest(rw http.ResponseWriter, req *http.Request) {
	method := mux.Vars(req)["method"]

	var meltRequest nut05.PostMeltRequest
	if err := json.NewDecoder(req.Body).Decode(&meltRequest); err != nil {
		ms.writeError(rw, cashu.BuildCashuError("unable to parse request body", cashu.StandardErrCode))
		return
	}

	var options []MeltOption
	if len(meltRequest.Outputs) > 0 {
		options = append(options, WithChangeOutputs(meltRequest.Outputs))
	}

	result, err := ms.mint.MeltTokens(req.Context(), method, meltRequest.Quote, meltRequest.Inputs, options...)
	if err != nil {
		ms.writeError(rw, err)
		return
	}
	ms.writeQuoteResponse(rw, meltQuoteBolt11Response(result.MeltQuote, result.Change))
}

func (ms *MintServer) checkProofsState(rw http.ResponseWriter, req *http.Request) {
	var stateRequest nut07.PostCheckStateRequest
	if err := json.NewDecoder(req.Body).Decode(&stateRequest); err != nil {
		ms.writeError(rw, cashu.BuildCashuError("unable to parse request body", cashu.StandardErrCode))
		return
	}

	states, err := ms.mint.ProofsStateCheck(stateRequest.Ys)
	if err != nil {
		ms.writeError(rw, err)
		return
	}

	response, err := json.Marshal(nut07.PostCheckStateResponse{States: states})
	if err != nil {
		ms.writeError(rw, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, response)
}

func (ms *MintServer) restoreSignatures(rw http.ResponseWriter, req *http.Request) {
	var restoreRequest nut09.PostRestoreRequest
	if err := json.NewDecoder(req.Body).Decode(&restoreRequest); err != nil {
		ms.writeError(rw, cashu.BuildCashuError("unable to parse request body", cashu.StandardErrCode))
		return
	}

	outputs, signatures, err := ms.mint.RestoreSignatures(restoreRequest.Outputs)
	if err != nil {
		ms.writeError(rw, err)
		return
	}

	response, err := json.Marshal(nut09.PostRestoreResponse{Outputs: outputs, Signatures: signatures})
	if err != nil {
		ms.writeError(rw, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, response)
}

func (ms *MintServer) mintInfo(rw http.ResponseWriter, req *http.Request) {
	mintInfo, err := ms.mint.RetrieveMintInfo()
	if err != nil {
		ms.writeError(rw, cashu.StandardErr)
		return
	}

	response, err := json.Marshal(mintInfo)
	if err != nil {
		ms.writeError(rw, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, response)
}

func (ms *MintServer) writeQuoteResponse(rw http.ResponseWriter, quoteResponse any) {
	response, err := json.Marshal(quoteResponse)
	if err != nil {
		ms.writeError(rw, cashu.StandardErr)
		return
	}
	ms.writeResponse(rw, response)
}

func mintQuoteBolt11Response(quote storage.MintQuote) nut23.PostMintQuoteBolt11Response {
	return mintQuoteNotificationPayload(quote)
}

func mintQuoteBolt12Response(quote storage.MintQuote) nut25.PostMintQuoteBolt12Response {
	return nut25.PostMintQuoteBolt12Response{
		Quote:   quote.Id,
		Request: quote.PaymentRequest,
		Unit:    cashu.Sat,
		State:   quote.State,
		Expiry:  quote.Expiry,
		Method: nut25.MintResponseFields{
			AmountPaid:   quote.AmountPaid,
			AmountIssued: quote.AmountIssued,
			Pubkey:       quote.Pubkey,
		},
	}
}

func meltQuoteBolt11Response(quote storage.MeltQuote, change cashu.BlindedSignatures) nut23.PostMeltQuoteBolt11Response {
	response := meltQuoteNotificationPayload(quote)
	response.Method.Change = change
	return response
}
