package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const fetchMaxRetries = 3

// fetch wraps a store read in bounded exponential backoff. Retrying lives
// at the pipeline boundary only; the core algorithms never retry.
func fetch[T any](ctx context.Context, log zerolog.Logger, op string, fn func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	attempt := 0
	return backoff.RetryWithData(func() (T, error) {
		attempt++
		v, err := fn()
		if err != nil && attempt <= fetchMaxRetries {
			log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("store fetch failed, retrying")
		}
		return v, err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, fetchMaxRetries), ctx))
}
