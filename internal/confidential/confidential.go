// FILE: confidential.go
// Package confidential is a thin HTTP client to the external
// confidentiality collaborator that holds opaque-intent decryption keys
// (spec.md §4.7). Its shape — base URL cleanup, a shared *http.Client
// with a fixed timeout, User-Agent tagging, JSON parsing that degrades
// to an error instead of panicking — is lifted directly from the teacher's
// BridgeBroker in broker_bridge.go, the one place in the teacher repo
// that talks to an external sidecar instead of an exchange directly.
package confidential

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/offermesh/router/internal/model"
)

// Shim is the engine's view of the confidentiality collaborator:
// IsOpaque is a pure local check, Decrypt/Encrypt cross the network.
type Shim interface {
	IsOpaque(intent *model.Intent) bool
	Decrypt(ctx context.Context, intent *model.Intent) (model.DecryptedParams, error)
	Encrypt(ctx context.Context, params model.DecryptedParams) ([]byte, error)
}

// HTTPShim talks to the collaborator's REST surface. A session
// credential is minted once and cached until it nears expiry, the same
// keyName/bearerToken split the teacher's CoinbaseBroker keeps between a
// long-lived key and a short-lived signed request (broker_coinbase.go).
type HTTPShim struct {
	base      string
	hc        *http.Client
	keyID     string
	keySecret []byte

	mu         sync.Mutex
	credential string
	expiresAt  time.Time
}

func NewHTTPShim(base, keyID, keySecret string) *HTTPShim {
	base = strings.TrimSpace(base)
	if i := strings.IndexAny(base, " \t#"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if base == "" {
		base = "http://127.0.0.1:8989"
	}
	base = strings.TrimRight(base, "/")
	return &HTTPShim{
		base:      base,
		hc:        &http.Client{Timeout: 10 * time.Second},
		keyID:     keyID,
		keySecret: []byte(keySecret),
	}
}

// IsOpaque is the spec.md §3 sentinel check: a zero receiveAmount/minPrice/
// maxPrice marks an intent whose real parameters are held off-chain,
// encrypted, and only resolved through this shim.
func (s *HTTPShim) IsOpaque(intent *model.Intent) bool {
	return intent.Opaque()
}

// sessionCredential derives (and caches) a short-lived credential for
// talking to the collaborator, via HKDF over the long-lived key secret —
// the collaborator expects a fresh derived key per session window rather
// than the raw secret on the wire, which the teacher's exchange brokers
// never need since they authenticate with their own SDK's signing
// instead of a derived session key.
func (s *HTTPShim) sessionCredential() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credential != "" && time.Now().Before(s.expiresAt) {
		return s.credential, nil
	}

	salt := []byte(s.keyID)
	info := []byte("offermesh-confidential-session")
	r := hkdf.New(sha256.New, s.keySecret, salt, info)
	derived := make([]byte, 32)
	if _, err := io.ReadFull(r, derived); err != nil {
		return "", fmt.Errorf("derive session credential: %w", err)
	}
	s.credential = fmt.Sprintf("%x", derived)
	s.expiresAt = time.Now().Add(5 * time.Minute)
	return s.credential, nil
}

type decryptResponse struct {
	ReceiveAmount string `json:"receive_amount"`
	MinPrice      string `json:"min_price"`
	MaxPrice      string `json:"max_price"`
}

// Decrypt resolves an opaque intent's real parameters. Any transport or
// format fault is returned as a KindConfidentialityMiss error: the
// caller (engine) must treat this as a skip-and-retry-later condition,
// never a terminal failure of the intent itself (spec.md §4.7).
func (s *HTTPShim) Decrypt(ctx context.Context, intent *model.Intent) (model.DecryptedParams, error) {
	cred, err := s.sessionCredential()
	if err != nil {
		return model.DecryptedParams{}, model.NewError(model.KindConfidentialityMiss, "confidentiality shim unavailable", err)
	}

	body, _ := json.Marshal(map[string]any{
		"intent_id":       fmt.Sprintf("%x", intent.IntentID),
		"encrypted_blob":  intent.EncryptedPayload,
		"request_id":      uuid.New().String(),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/v1/decrypt", bytes.NewReader(body))
	if err != nil {
		return model.DecryptedParams{}, model.NewError(model.KindConfidentialityMiss, "build decrypt request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "offermesh-router/confidential")
	req.Header.Set("Authorization", "Bearer "+cred)

	res, err := s.hc.Do(req)
	if err != nil {
		return model.DecryptedParams{}, model.NewError(model.KindConfidentialityMiss, "decrypt request failed", err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return model.DecryptedParams{}, model.NewError(model.KindConfidentialityMiss, fmt.Sprintf("decrypt %d: %s", res.StatusCode, string(b)), nil)
	}

	var out decryptResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return model.DecryptedParams{}, model.NewError(model.KindConfidentialityMiss, "decode decrypt response", err)
	}
	recv, err1 := strconv.ParseInt(out.ReceiveAmount, 10, 64)
	minP, err2 := strconv.ParseInt(out.MinPrice, 10, 64)
	maxP, err3 := strconv.ParseInt(out.MaxPrice, 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return model.DecryptedParams{}, model.NewError(model.KindConfidentialityMiss, "malformed decrypted params", nil)
	}
	return model.DecryptedParams{ReceiveAmount: recv, MinPrice: minP, MaxPrice: maxP}, nil
}

// Encrypt is the inverse path used by the offer-creation UI surface to
// seal parameters before they're posted on-chain as an opaque intent. The
// engine itself never calls this; it exists so the same shim serves both
// directions of spec.md §4.7's contract.
func (s *HTTPShim) Encrypt(ctx context.Context, params model.DecryptedParams) ([]byte, error) {
	cred, err := s.sessionCredential()
	if err != nil {
		return nil, model.NewError(model.KindConfidentialityMiss, "confidentiality shim unavailable", err)
	}
	body, _ := json.Marshal(map[string]any{
		"receive_amount": params.ReceiveAmount,
		"min_price":      params.MinPrice,
		"max_price":      params.MaxPrice,
		"request_id":     uuid.New().String(),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/v1/encrypt", bytes.NewReader(body))
	if err != nil {
		return nil, model.NewError(model.KindConfidentialityMiss, "build encrypt request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred)

	res, err := s.hc.Do(req)
	if err != nil {
		return nil, model.NewError(model.KindConfidentialityMiss, "encrypt request failed", err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, model.NewError(model.KindConfidentialityMiss, "read encrypt response", err)
	}
	if res.StatusCode >= 300 {
		return nil, model.NewError(model.KindConfidentialityMiss, fmt.Sprintf("encrypt %d: %s", res.StatusCode, string(b)), nil)
	}
	var out struct {
		Blob string `json:"encrypted_blob"`
	}
	if err := json.Unmarshal(b, &out); err != nil || out.Blob == "" {
		return nil, model.NewError(model.KindConfidentialityMiss, "malformed encrypt response", nil)
	}
	return []byte(out.Blob), nil
}
