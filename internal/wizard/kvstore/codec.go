package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/docflow/docflow-backend/pkg/logger"
)

// Load decodes the JSON value at namespace/key into a T.
// A missing key yields def. A value that no longer decodes is deleted
// and def is returned.
func Load[T any](ctx context.Context, store Store, log *logger.Logger, namespace, key string, def T) (T, error) {
	raw, err := store.Get(ctx, namespace, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, err
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		log.Warn().
			Err(err).
			Str("namespace", namespace).
			Str("key", key).
			Msg("dropping undecodable value")
		if delErr := store.Delete(ctx, namespace, key); delErr != nil {
			log.Error().Err(delErr).Str("key", key).Msg("failed to delete undecodable value")
		}
		return def, nil
	}
	return v, nil
}

// Save encodes v as JSON and stores it at namespace/key
func Save[T any](ctx context.Context, store Store, namespace, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return store.Set(ctx, namespace, key, raw)
}
