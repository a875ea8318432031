// FILE: clob.go
// CLOB is an external central-limit-order-book venue adapter. Its
// authentication is a per-request short-lived JWT minted from an RSA
// private key, the same mint-on-demand pattern the teacher's
// broker_coinbase.go uses for the Coinbase Advanced Trade API — swapped
// here to authenticate quote/book requests against an arbitrary CLOB
// instead of placing a retail order.
package venue

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/offermesh/router/internal/chainclient"
	"github.com/offermesh/router/internal/model"
	"github.com/offermesh/router/internal/pricing"
)

// CLOB quotes a pair's best executable depth over a REST endpoint,
// authenticated with a per-request JWT minted from keyName+privateKeyPEM.
// It never raises: auth failures, network faults, and empty books all
// degrade to ok=false.
type CLOB struct {
	name       string
	apiBase    string
	keyName    string
	privateKey *rsa.PrivateKey
	slipBps    int64
	hc         *http.Client
}

// NewCLOB parses privateKeyPEM once at construction (FatalConfig on a bad
// key belongs to the caller, not to every quote call).
func NewCLOB(name, apiBase, keyName, privateKeyPEM string, slippageBps int64) (*CLOB, error) {
	priv, err := parseRSAPrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("clob %s: %w", name, err)
	}
	return &CLOB{
		name:       name,
		apiBase:    apiBase,
		keyName:    keyName,
		privateKey: priv,
		slipBps:    slippageBps,
		hc:         &http.Client{Timeout: 5 * time.Second},
	}, nil
}

func parseRSAPrivateKey(privatePEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, errors.New("invalid private key (no PEM block)")
	}
	switch block.Type {
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		priv, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("not an RSA private key")
		}
		return priv, nil
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported key type: %s", block.Type)
	}
}

func (c *CLOB) Name() string { return c.name }

func (c *CLOB) mintJWT() (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": c.keyName,
		"aud": "clob_quote_api",
		"iat": now.Unix(),
		"exp": now.Add(25 * time.Second).Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
		"jti": uuid.New().String(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.privateKey)
}

type clobBookResponse struct {
	PayAmount string `json:"pay_amount"`
	PoolID    string `json:"book_id"`
	SqrtPrice string `json:"sqrt_price"`
}

func (c *CLOB) fetchQuote(ctx context.Context, pair model.AssetPair, receiveAmount int64) (*clobBookResponse, bool) {
	token, err := c.mintJWT()
	if err != nil {
		return nil, false // VenueUnavailable: degrade silently, per spec.md §4.2
	}
	q := url.Values{}
	q.Set("receive_asset", pair.Want)
	q.Set("pay_asset", pair.Offer)
	q.Set("receive_amount", strconv.FormatInt(receiveAmount, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/v1/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, false
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("CB-ACCESS-KEY", c.keyName)

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, false
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		_, _ = io.ReadAll(res.Body)
		return nil, false
	}
	var out clobBookResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, false
	}
	return &out, true
}

func (c *CLOB) GetPrice(ctx context.Context, pair model.AssetPair, receiveAmount int64) (int64, bool) {
	q, ok := c.GetDetailedQuote(ctx, pair, receiveAmount)
	if !ok {
		return 0, false
	}
	return q.EffectivePrice, true
}

func (c *CLOB) GetDetailedQuote(ctx context.Context, pair model.AssetPair, receiveAmount int64) (*model.VenueQuote, bool) {
	resp, ok := c.fetchQuote(ctx, pair, receiveAmount)
	if !ok {
		return nil, false
	}
	pay, err := strconv.ParseInt(resp.PayAmount, 10, 64)
	if err != nil || pay <= 0 || receiveAmount <= 0 {
		return nil, false
	}
	eff, err := pricing.EffectivePrice(receiveAmount, pay)
	if err != nil {
		return nil, false
	}
	return &model.VenueQuote{
		Venue:          c.name,
		ReceiveAmount:  receiveAmount,
		PayAmount:      pay,
		EffectivePrice: eff,
		Metadata: model.QuoteMetadata{
			Kind:    model.VenueCLOB,
			Venue:   c.name,
			Payload: []byte(resp.PoolID + ":" + resp.SqrtPrice),
		},
	}, true
}

func (c *CLOB) BuildFragment(ctx context.Context, tx chainclient.TxBuilder, params LegParams) (*Fragment, error) {
	minOut := params.FillAmount * (10_000 - c.slipBps) / 10_000
	bookArg := tx.BytesArg(params.Metadata.Payload)
	payArg := params.PayHandle
	minOutArg := tx.IntArg(minOut)

	outs, err := tx.MoveCall(fmt.Sprintf("%s::clob::take", c.name), []chainclient.ObjectHandle{bookArg, payArg, minOutArg})
	if err != nil {
		return nil, err
	}
	if len(outs) == 0 {
		return nil, fmt.Errorf("clob take returned no output handle")
	}
	return &Fragment{OutputHandle: outs[0], Description: fmt.Sprintf("%s take min_out=%d", c.name, minOut)}, nil
}
