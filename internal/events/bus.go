package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"orderflow/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher hands a committed domain event to its consumers.
type Publisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

type Handler func(ctx context.Context, evt domain.Event) error

// Bus delivers events to in-process subscribers. Every subscriber runs even
// when an earlier one fails; the failures are joined into the returned error.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.EventType][]Handler
	logger   *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[domain.EventType][]Handler),
		logger:   logger,
	}
}

func (b *Bus) Subscribe(typ domain.EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[typ] = append(b.handlers[typ], h)
}

func (b *Bus) Publish(ctx context.Context, evt domain.Event) error {
	b.mu.RLock()
	handlers := b.handlers[evt.Type]
	b.mu.RUnlock()

	var errs []error
	for i, h := range handlers {
		if err := h(ctx, evt); err != nil {
			b.logger.Warn("Event handler failed",
				zap.String("event_id", evt.ID),
				zap.String("event_type", string(evt.Type)),
				zap.Int("handler", i),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("handler %d for %s: %w", i, evt.Type, err))
		}
	}
	return errors.Join(errs...)
}

func NewID() string {
	return uuid.NewString()
}
