package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"go.uber.org/zap"
)

// SignCallback returns the hex HMAC-SHA256 of a raw callback body, as the
// gateway computes it for the X-Callback-Signature header.
func SignCallback(privateKey string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(privateKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallback reports whether signature matches body. An empty key never
// verifies.
func VerifyCallback(privateKey string, body []byte, signature string) bool {
	if privateKey == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(privateKey))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

const MethodManualProcessing = "manual_processing_required"

type RefundInstruction struct {
	RefundID          string
	MerchantRef       string
	ProviderReference string
	Amount            int64
}

type RefundOutcome struct {
	Method string
	// Settled is true when the provider returned the funds itself.
	Settled bool
	Note    string
}

type RefundProvider interface {
	Refund(ctx context.Context, in RefundInstruction) (RefundOutcome, error)
}

type tripayRefunds struct {
	logger *zap.Logger
}

// NewTripayRefunds returns the refund provider for Tripay. Tripay has no
// refund API: every refund is handed over for manual processing through the
// merchant dashboard or a bank transfer.
func NewTripayRefunds(logger *zap.Logger) RefundProvider {
	return &tripayRefunds{logger: logger}
}

func (p *tripayRefunds) Refund(ctx context.Context, in RefundInstruction) (RefundOutcome, error) {
	if err := ctx.Err(); err != nil {
		return RefundOutcome{}, err
	}
	p.logger.Info("Refund requires manual processing",
		zap.String("refund_id", in.RefundID),
		zap.String("merchant_ref", in.MerchantRef),
		zap.String("provider_reference", in.ProviderReference),
		zap.Int64("amount", in.Amount),
	)
	return RefundOutcome{
		Method: MethodManualProcessing,
		Note:   "Manual refund processing required through the Tripay dashboard or bank transfer",
	}, nil
}
