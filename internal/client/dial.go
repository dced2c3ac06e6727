package client

import (
	"context"
	"errors"
	"time"

	"github.com/op/go-logging"

	"github.com/cestef/punch/internal/identity"
	"github.com/cestef/punch/internal/puncherr"
	"github.com/cestef/punch/internal/transport"
)

var log = logging.MustGetLogger("client")

const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = time.Second
	DefaultAuthWindow = 100 * time.Millisecond
)

// DialWithRetry calls ep.Dial up to maxRetries+1 times, waiting delay
// between attempts. Any dial error except ConnectionClosed retries;
// ConnectionClosed propagates immediately.
func DialWithRetry(ctx context.Context, ep transport.Endpoint, id identity.NodeIdentity, maxRetries int, delay time.Duration) (transport.Session, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		sess, err := ep.Dial(ctx, id)
		if err == nil {
			return sess, nil
		}
		lastErr = err

		var closed *puncherr.ConnectionClosed
		if errors.As(err, &closed) {
			return nil, err
		}

		if attempt < maxRetries {
			log.Warningf("dial attempt %d/%d failed: %v", attempt+1, maxRetries+1, err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, &puncherr.Transport{Op: "dial", Err: lastErr}
}
