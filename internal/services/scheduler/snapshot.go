package scheduler

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Running:      s.running,
		Restored:     s.restored,
		Timezone:     s.clock.Location().String(),
		TickInterval: s.cfg.TickInterval,
		Armed:        len(s.entries),
		Ticks:        s.ticks,
		LastTick:     s.lastTick,
		Maintenance:  s.cfg.Maintenance,
	}
	for _, e := range s.entries {
		if e.firing {
			snap.Firing++
			continue
		}
		if snap.NextFireAt.IsZero() || e.job.FireAt.Before(snap.NextFireAt) {
			snap.NextFireAt = e.job.FireAt
			snap.NextJobID = e.job.ID
		}
	}
	c, id := s.maint, s.maintID
	s.mu.Unlock()

	if c != nil && id != 0 {
		snap.MaintenanceNext = c.Entry(id).Next
	}
	return snap
}
