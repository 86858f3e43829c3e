package broadcast

import (
	"context"
	"time"

	kit "broadcastbot/internal/transport"
)

type Config struct {
	// DelayBetweenSends paces consecutive sends; 0 disables pacing.
	DelayBetweenSends time.Duration
	// SendTimeout bounds one recipient's send.
	SendTimeout time.Duration
	// BreakerThreshold is the number of consecutive transient failures that
	// opens the circuit breaker; 0 disables it.
	BreakerThreshold int
	BreakerCooldown  time.Duration
	// HistorySize is the number of reports kept for Recent.
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 50
	}
	return c
}

// Sender is the slice of the transport a dispatch needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	SendMedia(ctx context.Context, to kit.ChatTarget, media kit.Media, caption string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Payload struct {
	Text  string
	Media string // kit.Media reference, empty for text-only
}

type Request struct {
	JobID      string // empty for instant broadcasts
	FireAt     time.Time
	Recipients []int64
	Payload    Payload
}

type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
)

type Failure struct {
	Recipient int64       `json:"recipient"`
	Kind      FailureKind `json:"kind"`
	Err       string      `json:"err"`
}

// Report is the outcome of one dispatch. Attempted == Succeeded + len(Failed).
type Report struct {
	JobID      string    `json:"job_id,omitempty"`
	FireAt     time.Time `json:"fire_at,omitzero"`
	Attempted  int       `json:"attempted"`
	Succeeded  int       `json:"succeeded"`
	Failed     []Failure `json:"failed,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r Report) Took() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Permanent lists recipients that should be dropped from the directory.
func (r Report) Permanent() []int64 {
	var out []int64
	for _, f := range r.Failed {
		if f.Kind == FailurePermanent {
			out = append(out, f.Recipient)
		}
	}
	return out
}
