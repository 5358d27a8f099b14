package wallet

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/asmogo/cdk/cashu"
)

// prefix for serialized blind auth tokens sent on protected endpoints
const AuthTokenPrefix = "authA"

var ErrNoBlindAuthProofs = errors.New("no blind auth proofs available")

// AuthProof is the subset of a proof sent as a blind auth token. It
// carries no amount since auth proofs are all worth one request.
type AuthProof struct {
	Id     string `json:"id"`
	Secret string `json:"secret"`
	C      string `json:"C"`
}

// AuthWallet holds the authentication material a mint can require on
// protected endpoints: a clear auth token obtained out of band and a
// reserve of blind auth proofs minted with it. The reserve is read on
// every protected request and replaced only on refresh, so access goes
// through a reader/writer lock and readers never block each other.
type AuthWallet struct {
	mu         sync.RWMutex
	clearToken string
	proofs     cashu.Proofs

	logger *slog.Logger
}

func NewAuthWallet(logger *slog.Logger) *AuthWallet {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &AuthWallet{logger: logger}
}

// SetClearAuthToken replaces the clear auth token used to mint new
// blind auth proofs.
func (aw *AuthWallet) SetClearAuthToken(token string) {
	aw.mu.Lock()
	aw.clearToken = token
	aw.mu.Unlock()
	aw.logger.Info("auth token set")
}

// ClearAuthToken returns the current clear auth token if one is set.
func (aw *AuthWallet) ClearAuthToken() (string, bool) {
	aw.mu.RLock()
	defer aw.mu.RUnlock()
	return aw.clearToken, len(aw.clearToken) > 0
}

// RefreshBlindAuthProofs replaces the proof reserve.
func (aw *AuthWallet) RefreshBlindAuthProofs(proofs cashu.Proofs) {
	aw.mu.Lock()
	aw.proofs = proofs
	aw.mu.Unlock()
	aw.logger.Info("blind auth proofs refreshed", slog.Int("count", len(proofs)))
}

// BlindAuthProofCount returns how many proofs remain in the reserve.
func (aw *AuthWallet) BlindAuthProofCount() int {
	aw.mu.RLock()
	defer aw.mu.RUnlock()
	return len(aw.proofs)
}

// GetBlindAuthToken takes one proof from the reserve and serializes it
// for the Blind-authentication header. Each token is single use.
func (aw *AuthWallet) GetBlindAuthToken() (string, error) {
	aw.mu.Lock()
	defer aw.mu.Unlock()

	if len(aw.proofs) == 0 {
		return "", ErrNoBlindAuthProofs
	}
	proof := aw.proofs[0]
	aw.proofs = aw.proofs[1:]

	authProof := AuthProof{Id: proof.Id, Secret: proof.Secret, C: proof.C}
	jsonProof, err := json.Marshal(authProof)
	if err != nil {
		return "", err
	}

	token := AuthTokenPrefix + base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(jsonProof)
	aw.logger.Debug("blind auth token spent", slog.Int("remaining", len(aw.proofs)))
	return token, nil
}
