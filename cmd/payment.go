package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payfast-reconciler/models"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <merchantTransactionId>",
	Short: "Query the gateway once for a transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) (any, error) {
			resp, perr := a.payments.RetrievePayment(ctx, a.session(args[0]))
			if perr != nil {
				return nil, perr
			}
			return resp, nil
		})
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <merchantTransactionId>",
	Short: "Poll the gateway with backoff until the transaction is authorized or the schedule ends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) (any, error) {
			res, perr := a.payments.AuthorizePayment(ctx, a.session(args[0]))
			if perr != nil {
				return nil, perr
			}
			return res, nil
		})
	},
}

func (a *app) session(merchantTransactionID string) models.SessionData {
	return models.SessionData{
		Data: &models.PaymentResponseData{
			MerchantID:            a.gateway.MerchantID(),
			MerchantTransactionID: merchantTransactionID,
		},
	}
}

// withApp builds the components, runs fn and prints its result as JSON.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) (any, error)) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
	}()

	out, err := fn(ctx, a)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
