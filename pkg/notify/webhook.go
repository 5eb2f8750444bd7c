// Package notify posts a run summary to an operator-configured webhook.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/natserract/sfclean/pkg/audit"
	httpclient "github.com/natserract/sfclean/pkg/http"
	"go.uber.org/zap"
)

// Summary is the payload delivered when a run completes.
type Summary struct {
	Operation    string       `json:"operation"`
	OperationID  string       `json:"operationId"`
	Tenant       string       `json:"tenant"`
	TargetFolder string       `json:"targetFolder"`
	Results      audit.Totals `json:"results"`
	ExitCode     int          `json:"exitCode"`
	CompletedAt  time.Time    `json:"completedAt"`
}

// SummaryOf builds the payload for a saved record.
func SummaryOf(rec *audit.Record) Summary {
	return Summary{
		Operation:    rec.Operation,
		OperationID:  rec.OperationID,
		Tenant:       rec.Tenant,
		TargetFolder: rec.TargetFolder,
		Results:      rec.Totals,
		ExitCode:     rec.ExitCode,
		CompletedAt:  rec.CompletedAt,
	}
}

// Webhook posts summaries as JSON.
type Webhook struct {
	url    string
	client *httpclient.Client
	logger *zap.Logger
}

// NewWebhook returns nil when url is empty so callers can skip delivery.
func NewWebhook(url string, client *httpclient.Client, logger *zap.Logger) *Webhook {
	if url == "" {
		return nil
	}
	return &Webhook{url: url, client: client, logger: logger}
}

// Notify posts s. A nil webhook does nothing.
func (w *Webhook) Notify(ctx context.Context, s Summary) error {
	if w == nil {
		return nil
	}
	if _, err := w.client.Post(ctx, w.url, nil, s); err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	w.logger.Info("Successfully delivered run summary",
		zap.String("operation_id", s.OperationID),
		zap.Int("exit_code", s.ExitCode))
	return nil
}
