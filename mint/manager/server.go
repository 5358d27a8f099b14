// Package manager exposes administrative operations of a running mint
// over a unix socket. Requests and responses follow JSON-RPC 2.0 with
// string params.
package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/asmogo/cdk/mint"
)

const SocketPath = "/tmp/gonuts/gonuts-admin.sock"

const (
	ISSUED_ECASH_REQUEST   = "issued_ecash"
	REDEEMED_ECASH_REQUEST = "redeemed_ecash"
	TOTAL_BALANCE          = "total_balance"
	LIST_KEYSETS           = "list_keysets"
	ROTATE_KEYSET          = "rotate_keyset"
)

const (
	methodNotFoundCode = -32601
	invalidParamsCode  = -32602
	internalErrorCode  = -32603
)

type Request struct {
	JsonRPC string   `json:"jsonrpc"`
	Method  string   `json:"method"`
	Params  []string `json:"params,omitempty"`
	Id      int      `json:"id"`
}

type Response struct {
	JsonRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   RPCError        `json:"error,omitempty"`
	Id      int             `json:"id"`
}

type RPCError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type KeysetIssued struct {
	Id           string `json:"id"`
	AmountIssued uint64 `json:"amount_issued"`
}

type IssuedEcashResponse struct {
	Keysets     []KeysetIssued `json:"keysets"`
	TotalIssued uint64         `json:"total_issued"`
}

type KeysetRedeemed struct {
	Id             string `json:"id"`
	AmountRedeemed uint64 `json:"amount_redeemed"`
}

type RedeemedEcashResponse struct {
	Keysets       []KeysetRedeemed `json:"keysets"`
	TotalRedeemed uint64           `json:"total_redeemed"`
}

type TotalBalanceResponse struct {
	TotalIssued        IssuedEcashResponse   `json:"total_issued"`
	TotalRedeemed      RedeemedEcashResponse `json:"total_redeemed"`
	TotalInCirculation uint64                `json:"total_in_circulation"`
}

type Server struct {
	listener net.Listener
	mint     *mint.Mint
	quit     chan struct{}
}

func SetupServer(mint *mint.Mint) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(SocketPath), 0700); err != nil {
		return nil, err
	}
	// remove a stale socket from a previous run
	if err := os.Remove(SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	listener, err := net.Listen("unix", SocketPath)
	if err != nil {
		return nil, fmt.Errorf("error setting up socket: %v", err)
	}

	server := &Server{
		listener: listener,
		mint:     mint,
		quit:     make(chan struct{}),
	}
	go server.acceptConnections()
	return server, nil
}

func (s *Server) Shutdown() error {
	close(s.quit)
	if err := s.listener.Close(); err != nil {
		return err
	}
	return os.Remove(SocketPath)
}

func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		writeErrorResponse(conn, Request{JsonRPC: "2.0"}, invalidParamsCode, "invalid request")
		return
	}

	result, rpcErr := s.dispatch(req)
	if rpcErr != nil {
		writeErrorResponse(conn, req, rpcErr.Code, rpcErr.Message)
		return
	}

	response := Response{
		JsonRPC: "2.0",
		Result:  result,
		Id:      req.Id,
	}
	jsonResponse, err := json.Marshal(response)
	if err != nil {
		writeErrorResponse(conn, req, internalErrorCode, "unable to marshal response")
		return
	}
	conn.Write(jsonResponse)
}

func (s *Server) dispatch(req Request) (json.RawMessage, *RPCError) {
	switch req.Method {
	case ISSUED_ECASH_REQUEST:
		return s.issuedEcash(req.Params)
	case REDEEMED_ECASH_REQUEST:
		return s.redeemedEcash(req.Params)
	case TOTAL_BALANCE:
		return s.totalBalance()
	case LIST_KEYSETS:
		return marshalResult(s.mint.ListKeysets())
	case ROTATE_KEYSET:
		return s.rotateKeyset(req.Params)
	default:
		return nil, &RPCError{Code: methodNotFoundCode, Message: fmt.Sprintf("unknown method '%v'", req.Method)}
	}
}

func (s *Server) issuedEcash(params []string) (json.RawMessage, *RPCError) {
	issued, err := s.issuedEcashResponse()
	if err != nil {
		return nil, internalError(err)
	}

	if len(params) > 0 {
		keysetId := params[0]
		for _, keyset := range issued.Keysets {
			if keyset.Id == keysetId {
				return marshalResult(keyset)
			}
		}
		return nil, &RPCError{Code: invalidParamsCode, Message: fmt.Sprintf("unknown keyset '%v'", keysetId)}
	}

	return marshalResult(issued)
}

func (s *Server) redeemedEcash(params []string) (json.RawMessage, *RPCError) {
	redeemed, err := s.redeemedEcashResponse()
	if err != nil {
		return nil, internalError(err)
	}

	if len(params) > 0 {
		keysetId := params[0]
		for _, keyset := range redeemed.Keysets {
			if keyset.Id == keysetId {
				return marshalResult(keyset)
			}
		}
		return nil, &RPCError{Code: invalidParamsCode, Message: fmt.Sprintf("unknown keyset '%v'", keysetId)}
	}

	return marshalResult(redeemed)
}

func (s *Server) totalBalance() (json.RawMessage, *RPCError) {
	issued, err := s.issuedEcashResponse()
	if err != nil {
		return nil, internalError(err)
	}
	redeemed, err := s.redeemedEcashResponse()
	if err != nil {
		return nil, internalError(err)
	}

	return marshalResult(TotalBalanceResponse{
		TotalIssued:        issued,
		TotalRedeemed:      redeemed,
		TotalInCirculation: issued.TotalIssued - redeemed.TotalRedeemed,
	})
}

func (s *Server) rotateKeyset(params []string) (json.RawMessage, *RPCError) {
	if len(params) < 1 {
		return nil, &RPCError{Code: invalidParamsCode, Message: "fee for new keyset not specified"}
	}
	fee, err := strconv.Atoi(params[0])
	if err != nil || fee < 0 {
		return nil, &RPCError{Code: invalidParamsCode, Message: fmt.Sprintf("invalid fee '%v'", params[0])}
	}

	newKeyset, err := s.mint.RotateKeyset(uint(fee))
	if err != nil {
		return nil, internalError(err)
	}
	return marshalResult(newKeyset)
}

func (s *Server) issuedEcashResponse() (IssuedEcashResponse, error) {
	issuedByKeyset, err := s.mint.IssuedEcash()
	if err != nil {
		return IssuedEcashResponse{}, err
	}

	issued := IssuedEcashResponse{Keysets: []KeysetIssued{}}
	for keysetId, amount := range issuedByKeyset {
		issued.Keysets = append(issued.Keysets, KeysetIssued{Id: keysetId, AmountIssued: amount})
		issued.TotalIssued += amount
	}
	return issued, nil
}

func (s *Server) redeemedEcashResponse() (RedeemedEcashResponse, error) {
	redeemedByKeyset, err := s.mint.RedeemedEcash()
	if err != nil {
		return RedeemedEcashResponse{}, err
	}

	redeemed := RedeemedEcashResponse{Keysets: []KeysetRedeemed{}}
	for keysetId, amount := range redeemedByKeyset {
		redeemed.Keysets = append(redeemed.Keysets, KeysetRedeemed{Id: keysetId, AmountRedeemed: amount})
		redeemed.TotalRedeemed += amount
	}
	return redeemed, nil
}

func marshalResult(result any) (json.RawMessage, *RPCError) {
	jsonResult, err := json.Marshal(result)
	if err != nil {
		return nil, internalError(err)
	}
	return jsonResult, nil
}

func internalError(err error) *RPCError {
	return &RPCError{Code: internalErrorCode, Message: err.Error()}
}

func writeErrorResponse(conn net.Conn, req Request, code int, message string) {
	response := Response{
		JsonRPC: "2.0",
		Error:   RPCError{Code: code, Message: message},
		Id:      req.Id,
	}
	jsonResponse, err := json.Marshal(response)
	if err != nil {
		return
	}
	conn.Write(jsonResponse)
}
