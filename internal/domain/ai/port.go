package ai

import "context"

// Client summarizes a JSON report of recent defect records.
type Client interface {
	Summarize(ctx context.Context, reportJSON string) (string, error)
}
