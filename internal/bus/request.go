package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/AetharaAI/lotus/internal/types"
)

// nowFunc is swappable in tests.
var nowFunc = time.Now

// DefaultRequestTimeout bounds how long a requester waits for a response
// before receiving a typed timeout error.
const DefaultRequestTimeout = 30 * time.Second

// Request implements the request/response convention on top of publish and
// subscribe: it publishes to "<topic>.request" with a fresh correlation id
// and waits for a single matching "<topic>.response.<correlation_id>" event.
//
// On timeout the caller gets a retryable BUS_REQUEST_TIMEOUT error instead of
// blocking forever; the late response, if any, is discarded.
func Request(ctx context.Context, b EventBus, topic, source string, data any, timeout time.Duration) (*Envelope, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	corrID := types.NewID().String()
	responseTopic := topic + ".response." + corrID

	// Buffered so a response arriving after the timeout does not block the
	// dispatch goroutine.
	respCh := make(chan Envelope, 1)

	sub, err := b.Subscribe(responseTopic, source, func(ctx context.Context, env Envelope) error {
		select {
		case respCh <- env:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer b.Unsubscribe(sub)

	req := NewEnvelope(topic+".request", source, data)
	req.CorrelationID = corrID
	if err := b.Publish(ctx, req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-respCh:
		return &env, nil
	case <-timer.C:
		return nil, types.NewRetryableError(types.BUS_REQUEST_TIMEOUT,
			fmt.Sprintf("no response on %q within %s", responseTopic, timeout))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Respond publishes a response envelope correlated to a previously received
// request. It is a convenience for responder modules.
func Respond(ctx context.Context, b EventBus, req Envelope, responderSource, baseTopic string, data any) error {
	if req.CorrelationID == "" {
		return types.NewError(types.BUS_INVALID_TOPIC,
			"cannot respond to a request without a correlation id")
	}
	resp := NewEnvelope(baseTopic+".response."+req.CorrelationID, responderSource, data)
	resp.CorrelationID = req.CorrelationID
	return b.Publish(ctx, resp)
}
