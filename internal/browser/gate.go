package browser

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/pdf-capture-service/internal/metrics"
)

// Gate admits new browser sessions. It bounds how many are open at once and
// how fast new ones connect.
type Gate struct {
	slots   chan struct{}
	connect *rate.Limiter
}

// NewGate builds a Gate. maxParallel <= 0 means unbounded; connectQPS <= 0
// disables the connect throttle.
func NewGate(maxParallel int, connectQPS float64) (*Gate, error) {
	if maxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	g := &Gate{}
	if maxParallel > 0 {
		g.slots = make(chan struct{}, maxParallel)
	}
	if connectQPS > 0 {
		burst := int(connectQPS)
		if burst < 1 {
			burst = 1
		}
		g.connect = rate.NewLimiter(rate.Limit(connectQPS), burst)
	}
	return g, nil
}

// Acquire waits for a session slot and a connect token. The returned release
// func must be called exactly once when the session closes.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if g == nil {
		metrics.SessionOpened()
		return metrics.SessionClosed, nil
	}
	if g.slots != nil {
		select {
		case g.slots <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
		}
	}
	if g.connect != nil {
		if err := g.connect.Wait(ctx); err != nil {
			g.release()
			return nil, fmt.Errorf("browser connect throttle: %w", err)
		}
	}
	metrics.SessionOpened()
	return func() {
		metrics.SessionClosed()
		g.release()
	}, nil
}

func (g *Gate) release() {
	if g.slots == nil {
		return
	}
	select {
	case <-g.slots:
	default:
	}
}
