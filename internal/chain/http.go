package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// HTTPClient calls the effect backend that signs and submits on-chain
// transactions: POST /send_gseed and POST /swap.
type HTTPClient struct {
	baseURL string
	timeout time.Duration
}

// NewHTTPClient builds a client for the effect service at baseURL. Every call
// is bounded by timeout or by the context deadline, whichever is sooner.
func NewHTTPClient(baseURL string, timeout time.Duration) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("effect service url is required")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("effect service timeout must be positive, got %s", timeout)
	}
	return &HTTPClient{baseURL: baseURL, timeout: timeout}, nil
}

// Amounts go out as JSON numbers; the backend scales them to token units.
type sendRequest struct {
	ToAddress string      `json:"to_address"`
	Amount    json.Number `json:"amount"`
}

type swapRequest struct {
	Wallet     string      `json:"wallet"`
	SeedAmount json.Number `json:"gseed_amount"`
}

type effectResponse struct {
	Success        bool            `json:"success"`
	Error          string          `json:"error"`
	TxHash         string          `json:"tx_hash"`
	TransactionRef string          `json:"transaction_hash"`
	StableAmount   decimal.Decimal `json:"pyusd_amount"`
}

func (r effectResponse) ref() string {
	if r.TxHash != "" {
		return r.TxHash
	}
	return r.TransactionRef
}

// Send implements Transferer.
func (c *HTTPClient) Send(ctx context.Context, toAddress string, amount decimal.Decimal) (TransferReceipt, error) {
	var out effectResponse
	if err := c.post(ctx, "/send_gseed", sendRequest{ToAddress: toAddress, Amount: json.Number(amount.String())}, &out); err != nil {
		return TransferReceipt{}, err
	}
	return TransferReceipt{TxRef: out.ref()}, nil
}

// Convert implements Swapper.
func (c *HTTPClient) Convert(ctx context.Context, walletAddress string, seedAmount decimal.Decimal) (SwapReceipt, error) {
	var out effectResponse
	if err := c.post(ctx, "/swap", swapRequest{Wallet: walletAddress, SeedAmount: json.Number(seedAmount.String())}, &out); err != nil {
		return SwapReceipt{}, err
	}
	return SwapReceipt{StableCredited: out.StableAmount, TxRef: out.ref()}, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return fmt.Errorf("%w: %s: deadline exceeded", ErrEffectFailed, path)
	}

	agent := fiber.Post(c.baseURL + path).JSON(body).Timeout(timeout)
	code, raw, errs := agent.Struct(out)
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s: %v", ErrEffectFailed, path, errs[0])
	}
	if code != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if r, ok := out.(*effectResponse); ok && r.Error != "" {
			msg = r.Error
		}
		return fmt.Errorf("%w: %s returned %d: %s", ErrEffectFailed, path, code, msg)
	}
	if r, ok := out.(*effectResponse); ok && !r.Success && r.Error != "" {
		return fmt.Errorf("%w: %s: %s", ErrEffectFailed, path, r.Error)
	}
	return nil
}
