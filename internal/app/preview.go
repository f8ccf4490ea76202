package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bhardin04/livedemo/internal/domain"
	"github.com/bhardin04/livedemo/internal/simulation"
)

// Preview generates one payload for a demo type without a session. Concurrent
// requests for the same demo type and seed share one generation.
func (s *Service) Preview(ctx context.Context, demoType string, seed int64) (domain.UpdateMessage, error) {
	d, err := domain.ParseDemoType(demoType)
	if err != nil {
		return domain.UpdateMessage{}, fmt.Errorf("preview %q: %w", demoType, err)
	}

	key := demoType + ":" + strconv.FormatInt(seed, 10)
	v, err, _ := s.previewGroup.Do(key, func() (any, error) {
		gen, err := simulation.GeneratorFor(d)
		if err != nil {
			return nil, err
		}
		batch, err := gen.Next(1, seed)
		if err != nil {
			return nil, fmt.Errorf("generate preview: %w", err)
		}
		return domain.UpdateMessage{
			Type:       d.UpdateMessageType(),
			UpdateType: batch.UpdateType,
			Data: map[string]any{
				"tick":    int64(1),
				"records": batch.Records,
				"summary": batch.Summary,
			},
		}, nil
	})
	if err != nil {
		return domain.UpdateMessage{}, err
	}
	if ctx.Err() != nil {
		return domain.UpdateMessage{}, ctx.Err()
	}
	return v.(domain.UpdateMessage), nil
}
