package scheduler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "broadcastbot/pkg/logx"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// ParseMaintenance reads a maintenance schedule: a cron expression or
// descriptor, a Go duration ("6h") or an HH:MM interval ("06:00"). A
// "cron:" or "every:" prefix forces the interpretation.
func ParseMaintenance(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errors.New("schedule required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return cronParser.Parse(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		d, err := parseInterval(strings.TrimSpace(s[len("every:"):]))
		if err != nil {
			return nil, err
		}
		return cron.Every(d), nil
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return cronParser.Parse(s)
	}
	d, err := parseInterval(s)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q (use cron like '0 4 * * *', HH:MM like '06:00', or duration like '6h')", raw)
	}
	return cron.Every(d), nil
}

func parseInterval(v string) (time.Duration, error) {
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return 0, fmt.Errorf("invalid interval %q", v)
		}
	}
	if d <= 0 {
		return 0, errors.New("interval must be > 0")
	}
	return d, nil
}

// restartMaintenance replaces the running maintenance cron with one built
// from the current config.
func (s *Service) restartMaintenance() error {
	s.mu.Lock()
	old := s.maint
	s.maint, s.maintID = nil, 0
	spec := strings.TrimSpace(s.cfg.Maintenance)
	loc := s.clock.Location()
	running := s.running
	s.mu.Unlock()

	if old != nil {
		<-old.Stop().Done()
	}
	if !running || spec == "" {
		return nil
	}

	sched, err := ParseMaintenance(spec)
	if err != nil {
		return err
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithParser(cronParser),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	id := c.Schedule(sched, cron.FuncJob(func() { s.Maintain(context.Background()) }))
	c.Start()

	s.mu.Lock()
	s.maint, s.maintID = c, id
	s.mu.Unlock()
	s.log.Info("maintenance scheduled", logx.String("spec", spec), logx.Time("next", c.Entry(id).Next))
	return nil
}

// Maintain compacts the store when the driver supports it and logs the
// state of the armed table.
func (s *Service) Maintain(ctx context.Context) {
	start := time.Now()
	if c, ok := s.store.(compactor); ok {
		pctx, cancel := s.persistCtx(ctx)
		err := c.Compact(pctx)
		cancel()
		if err != nil {
			s.log.Warn("store compaction failed", logx.Err(err))
		}
	}
	snap := s.Snapshot()
	s.log.Info("scheduler maintenance",
		logx.Int("armed", snap.Armed),
		logx.Int("firing", snap.Firing),
		logx.String("next_job", snap.NextJobID),
		logx.Time("next_fire_at", snap.NextFireAt),
		logx.Duration("took", time.Since(start)))
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
