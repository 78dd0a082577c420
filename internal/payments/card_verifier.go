package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/greenbasket/api/internal/services"
)

// ErrUnknownToken indicates the provider has no payment method for the token.
var ErrUnknownToken = errors.New("payments: unknown payment method token")

type stripePaymentMethodAPI interface {
	Get(id string, params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
}

// StripeCardVerifier resolves tokenized cards at Stripe into displayable
// metadata. Raw card data never transits this service.
type StripeCardVerifier struct {
	api     stripePaymentMethodAPI
	account string
}

// StripeConfig configures the card verifier.
type StripeConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends

	// api overrides the Stripe client, for tests.
	api stripePaymentMethodAPI
}

// NewStripeCardVerifier constructs a verifier using the provided configuration.
func NewStripeCardVerifier(cfg StripeConfig) (*StripeCardVerifier, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.api == nil {
		return nil, errors.New("payments: stripe api key is required")
	}

	api := cfg.api
	if api == nil {
		sc := client.New(apiKey, cfg.Backends)
		api = sc.PaymentMethods
	}

	return &StripeCardVerifier{
		api:     api,
		account: strings.TrimSpace(cfg.AccountID),
	}, nil
}

// VerifyCardToken fetches card metadata for the token. It satisfies
// services.PaymentVerifier.
func (v *StripeCardVerifier) VerifyCardToken(ctx context.Context, token string) (services.CardMetadata, error) {
	if v == nil || v.api == nil {
		return services.CardMetadata{}, errors.New("payments: verifier not initialised")
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return services.CardMetadata{}, errors.New("payments: payment method token is required")
	}

	params := &stripe.PaymentMethodParams{}
	params.Context = ctx
	if v.account != "" {
		params.SetStripeAccount(v.account)
	}

	pm, err := v.api.Get(token, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return services.CardMetadata{}, ErrUnknownToken
		}
		return services.CardMetadata{}, fmt.Errorf("payments: fetch payment method: %w", err)
	}
	if pm == nil || pm.Type != stripe.PaymentMethodTypeCard || pm.Card == nil {
		return services.CardMetadata{}, ErrUnknownToken
	}

	return services.CardMetadata{
		Brand: strings.ToLower(string(pm.Card.Brand)),
		Last4: strings.TrimSpace(pm.Card.Last4),
	}, nil
}
