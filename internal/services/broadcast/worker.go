package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	kit "broadcastbot/internal/transport"
)

// sendOne delivers to a single recipient under its own deadline. The send
// runs on its own goroutine so a transport that ignores ctx cannot stall the
// loop; such a send is abandoned and its late result discarded.
func (s *Service) sendOne(ctx context.Context, timeout time.Duration, cb *gobreaker.CircuitBreaker, to int64, p Payload) error {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	send := func() error {
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("send panicked: %v", r)
				}
			}()
			done <- s.deliver(sctx, kit.ChatTarget{ChatID: to}, p)
		}()
		select {
		case err := <-done:
			return err
		case <-sctx.Done():
			return fmt.Errorf("send to %d: %w", to, sctx.Err())
		}
	}

	if cb == nil {
		return send()
	}
	_, err := cb.Execute(func() (any, error) { return nil, send() })
	return err
}

func (s *Service) deliver(ctx context.Context, to kit.ChatTarget, p Payload) error {
	if p.Media == "" {
		_, err := s.sender.SendText(ctx, to, p.Text, &kit.SendOptions{DisablePreview: true})
		return err
	}
	m, err := kit.ParseMedia(p.Media)
	if err != nil {
		return kit.Permanent(err)
	}
	_, err = s.sender.SendMedia(ctx, to, m, p.Text, nil)
	return err
}
