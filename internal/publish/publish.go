package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/awaistahir/smart-heat/internal/store"
)

// Sink receives every stored optimization run
type Sink interface {
	Name() string
	Publish(ctx context.Context, run *store.Run) error
}

func encodeRun(run *store.Run) ([]byte, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("encoding run %s: %w", run.ID, err)
	}
	return data, nil
}
