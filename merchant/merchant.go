package merchant

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mark3labs/agentwallet-go/x402"
)

// PaymentContextKey is the gin context key for the verified payment.
const PaymentContextKey = "agentwallet_payment"

// Config configures the payment gate.
type Config struct {
	// Accepts are the payment options offered in 402 challenges.
	// Options on registered EVM networks are verified locally;
	// transaction proofs go through TransactionVerifier.
	Accepts []x402.PaymentOption

	// TransactionVerifier checks transaction proofs on networks the
	// local verifier cannot cover (e.g. a permissioned ledger). Nil
	// rejects such proofs.
	TransactionVerifier func(ctx context.Context, network, transaction string) error

	// Settler redeems a verified authorization and reports the
	// settlement. Nil skips settlement and responds with a
	// verify-only settlement record.
	Settler func(ctx context.Context, payment *x402.PaymentPayload) (*x402.SettleResponse, error)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewPaymentMiddleware returns a gin middleware that gates handlers
// behind payment. Requests without an X-PAYMENT header get a 402
// challenge; presented payments are verified locally, answered with an
// X-PAYMENT-RESPONSE header, and stored in the gin context for the
// protected handler.
//
//	middleware, err := merchant.NewPaymentMiddleware(merchant.Config{
//		Accepts: []x402.PaymentOption{{
//			Scheme:            x402.SchemeExact,
//			Network:           x402.NetworkBase,
//			MaxAmountRequired: "10000",
//			PayTo:             "0xMERCHANT",
//			Asset:             x402.BaseMainnet.USDCAddress,
//		}},
//	})
//	r := gin.New()
//	r.Use(middleware)
//	r.GET("/premium", func(c *gin.Context) {
//		payment := merchant.GetPaymentFromContext(c)
//		c.JSON(200, gin.H{"payer": payment.Payer})
//	})
func NewPaymentMiddleware(config Config) (gin.HandlerFunc, error) {
	if len(config.Accepts) == 0 {
		return nil, fmt.Errorf("merchant: at least one payment option is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	verifiers := make(map[string]*Verifier, len(config.Accepts))
	for _, option := range config.Accepts {
		if !x402.KnownNetwork(option.Network) {
			return nil, fmt.Errorf("%w: %s", x402.ErrInvalidNetwork, option.Network)
		}
		if _, err := x402.GetChainConfig(option.Network); err != nil {
			// Non-EVM options rely on TransactionVerifier.
			continue
		}
		verifier, err := NewVerifier(option)
		if err != nil {
			return nil, err
		}
		verifiers[optionKey(option.Scheme, option.Network)] = verifier
	}

	return func(c *gin.Context) {
		header := c.GetHeader(x402.PaymentHeader)
		if header == "" {
			logger.Info("payment required", "path", c.Request.URL.Path)
			sendPaymentRequired(c, config.Accepts, "payment required")
			return
		}

		payment, err := x402.DecodePayment(header)
		if err != nil {
			logger.Warn("malformed payment header", "error", err)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"x402Version": x402.X402Version,
				"error":       "malformed payment header",
			})
			return
		}

		option, ok := matchOption(config.Accepts, payment)
		if !ok {
			logger.Warn("no matching payment option",
				"scheme", payment.Scheme, "network", payment.Network)
			sendPaymentRequired(c, config.Accepts, "no matching payment option")
			return
		}

		verified, err := verifyPayment(c.Request.Context(), config, verifiers, option, payment)
		if err != nil {
			logger.Warn("payment refused", "path", c.Request.URL.Path, "error", err)
			sendPaymentRequired(c, config.Accepts, err.Error())
			return
		}
		logger.Info("payment verified",
			"payer", verified.Payer, "amount", verified.Amount, "network", verified.Network)

		settlement := &x402.SettleResponse{
			Success:     true,
			Network:     verified.Network,
			Payer:       verified.Payer,
			Transaction: verified.Transaction,
		}
		if config.Settler != nil {
			settlement, err = config.Settler(c.Request.Context(), payment)
			if err != nil {
				logger.Error("settlement failed", "error", err)
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"x402Version": x402.X402Version,
					"error":       "payment settlement failed",
				})
				return
			}
			if !settlement.Success {
				sendPaymentRequired(c, config.Accepts, settlement.ErrorReason)
				return
			}
			if settlement.Transaction != "" {
				verified.Transaction = settlement.Transaction
			}
			logger.Info("payment settled", "transaction", settlement.Transaction)
		}

		if encoded, err := x402.EncodeSettlement(*settlement); err == nil {
			c.Header(x402.SettlementHeader, encoded)
		}

		c.Set(PaymentContextKey, verified)
		c.Next()
	}, nil
}

// verifyPayment routes the proof to the right checker: transaction
// proofs to the configured hook, authorizations to the local verifier.
func verifyPayment(ctx context.Context, config Config, verifiers map[string]*Verifier, option x402.PaymentOption, payment *x402.PaymentPayload) (*VerifiedPayment, error) {
	if payment.Payload.Transaction != "" {
		if config.TransactionVerifier == nil {
			return nil, fmt.Errorf("%w: transaction proofs not accepted", ErrVerificationFailed)
		}
		if err := config.TransactionVerifier(ctx, payment.Network, payment.Payload.Transaction); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
		}
		return &VerifiedPayment{
			Amount:      option.MaxAmountRequired,
			Network:     payment.Network,
			Scheme:      payment.Scheme,
			Transaction: payment.Payload.Transaction,
		}, nil
	}

	verifier, ok := verifiers[optionKey(option.Scheme, option.Network)]
	if !ok {
		return nil, fmt.Errorf("%w: no local verifier for network %q", ErrVerificationFailed, option.Network)
	}
	return verifier.Verify(payment)
}

func matchOption(accepts []x402.PaymentOption, payment *x402.PaymentPayload) (x402.PaymentOption, bool) {
	for _, option := range accepts {
		if option.Scheme == payment.Scheme && option.Network == payment.Network {
			return option, true
		}
	}
	return x402.PaymentOption{}, false
}

func optionKey(scheme, network string) string {
	return scheme + "/" + network
}

// sendPaymentRequired aborts with a 402 challenge. Options without a
// resource URL get the request's.
func sendPaymentRequired(c *gin.Context, accepts []x402.PaymentOption, message string) {
	options := make([]x402.PaymentOption, len(accepts))
	copy(options, accepts)
	for i := range options {
		if options[i].Resource == "" {
			options[i].Resource = requestURL(c.Request)
		}
	}
	c.AbortWithStatusJSON(http.StatusPaymentRequired, x402.PaymentChallenge{
		X402Version: x402.X402Version,
		Accepts:     options,
		Error:       message,
	})
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// GetPaymentFromContext extracts the verified payment stored by the
// middleware. Returns nil when the request was not payment-gated.
func GetPaymentFromContext(c *gin.Context) *VerifiedPayment {
	value, exists := c.Get(PaymentContextKey)
	if !exists {
		return nil
	}
	payment, ok := value.(*VerifiedPayment)
	if !ok {
		return nil
	}
	return payment
}
