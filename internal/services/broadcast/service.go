package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	kit "broadcastbot/internal/transport"
	logx "broadcastbot/pkg/logx"
)

type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	sender Sender
	log    logx.Logger

	history history
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log}
	s.Apply(cfg)
	return s
}

// Apply swaps pacing, timeouts and the breaker. Dispatches in progress keep
// the settings they started with.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	var lim *rate.Limiter
	if cfg.DelayBetweenSends > 0 {
		lim = rate.NewLimiter(rate.Every(cfg.DelayBetweenSends), 1)
	}

	var cb *gobreaker.CircuitBreaker
	if cfg.BreakerThreshold > 0 {
		threshold := uint32(cfg.BreakerThreshold)
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "telegram.send",
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= threshold },
			// A chat that kicked the bot says nothing about platform health.
			IsSuccessful: func(err error) bool { return err == nil || kit.IsPermanent(err) },
			OnStateChange: func(name string, from, to gobreaker.State) {
				s.log.Warn("send circuit breaker state changed", logx.String("breaker", name), logx.String("from", from.String()), logx.String("to", to.String()))
			},
		})
	}

	s.mu.Lock()
	s.cfg = cfg
	s.limiter = lim
	s.breaker = cb
	s.history.resize(cfg.HistorySize)
	s.mu.Unlock()
}

func (s *Service) snapshot() (Config, *rate.Limiter, *gobreaker.CircuitBreaker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter, s.breaker
}

// Dispatch sends the payload to every distinct recipient in order and
// reports per-recipient outcomes. It returns early only when ctx ends; the
// recipients not reached are reported as transient failures.
func (s *Service) Dispatch(ctx context.Context, req Request) Report {
	cfg, lim, cb := s.snapshot()
	rep := Report{JobID: req.JobID, FireAt: req.FireAt, StartedAt: time.Now()}

	seen := make(map[int64]struct{}, len(req.Recipients))
	for _, to := range req.Recipients {
		if _, dup := seen[to]; dup {
			continue
		}
		seen[to] = struct{}{}
		rep.Attempted++

		err := ctx.Err()
		if err == nil && lim != nil {
			err = lim.Wait(ctx)
		}
		if err != nil {
			rep.Failed = append(rep.Failed, Failure{Recipient: to, Kind: FailureTransient, Err: err.Error()})
			continue
		}

		err = s.sendOne(ctx, cfg.SendTimeout, cb, to, req.Payload)
		if err == nil {
			rep.Succeeded++
			continue
		}
		kind := FailureTransient
		if kit.IsPermanent(err) {
			kind = FailurePermanent
		}
		rep.Failed = append(rep.Failed, Failure{Recipient: to, Kind: kind, Err: err.Error()})
		s.log.Warn("broadcast send failed",
			logx.String("job", req.JobID),
			logx.Int64("chat_id", to),
			logx.String("kind", string(kind)),
			logx.Err(err))
	}
	rep.FinishedAt = time.Now()

	fields := []logx.Field{
		logx.String("job", req.JobID),
		logx.Int("attempted", rep.Attempted),
		logx.Int("succeeded", rep.Succeeded),
		logx.Int("failed", len(rep.Failed)),
		logx.Duration("took", rep.Took()),
	}
	if len(rep.Failed) > 0 {
		s.log.Warn("broadcast finished with failures", fields...)
	} else {
		s.log.Info("broadcast finished", fields...)
	}

	s.history.add(rep)
	return rep
}

// Recent returns up to n reports, newest first.
func (s *Service) Recent(n int) []Report { return s.history.recent(n) }
