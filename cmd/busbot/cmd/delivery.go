package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"busbot/internal/repository"
)

var deliveryTable string

var deliveryCmd = &cobra.Command{
	Use:   "delivery <message-id>",
	Short: "Show whether a Messenger message was already handled",
	Long:  "Reads the delivery ledger and prints when the given message id was first processed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if deliveryTable == "" {
			return errors.New("no delivery table: set --table or DEDUP_TABLE")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
		ledger, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), deliveryTable, 0)
		if err != nil {
			return err
		}
		return runDelivery(cmd.Context(), cmd.OutOrStdout(), ledger, args[0])
	},
}

func init() {
	deliveryCmd.Flags().StringVar(&deliveryTable, "table", os.Getenv("DEDUP_TABLE"), "DynamoDB delivery ledger table")
}

type processedLookup interface {
	ProcessedAt(ctx context.Context, messageID string) (time.Time, error)
}

func runDelivery(ctx context.Context, w io.Writer, ledger processedLookup, messageID string) error {
	at, err := ledger.ProcessedAt(ctx, messageID)
	if err != nil {
		return err
	}
	if at.IsZero() {
		_, _ = fmt.Fprintf(w, "%s: not processed\n", messageID)
		return nil
	}
	_, _ = fmt.Fprintf(w, "%s: processed at %s\n", messageID, at.UTC().Format(time.RFC3339))
	return nil
}
