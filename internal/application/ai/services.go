package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Jingik/S.F.D/internal/domain/ai"
	"github.com/Jingik/S.F.D/internal/domain/detection"
)

type Service struct {
	client ai.Client
}

func NewService(client ai.Client) *Service {
	return &Service{client: client}
}

// SummarizeDefects builds a report from recent records and asks the model
// for an operator-readable summary.
func (s *Service) SummarizeDefects(ctx context.Context, records []detection.Record) (string, error) {
	report, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("marshaling defect report: %w", err)
	}
	return s.client.Summarize(ctx, string(report))
}
