package payments

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/transfer"
)

// StripeClient issues transfers to workers' connected accounts.
type StripeClient struct{}

// NewStripeClient initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripeClient() *StripeClient {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeClient{}
}

// Transfer moves amountCents to the destination connected account, tagged
// with the job id so reconciliation can tie the money back to the pickup.
func (s *StripeClient) Transfer(ctx context.Context, amountCents int64, currency, destination, jobID string) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amountCents),
		Currency:    stripe.String(currency),
		Destination: stripe.String(destination),
	}
	params.AddMetadata("job_id", jobID)
	tr, err := transfer.New(params)
	if err != nil {
		return "", err
	}
	return tr.ID, nil
}
