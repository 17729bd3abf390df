// Package scheduler запускает периодические задания по расписанию в формате cron.
//
// Время срабатывания вычисляется в заданном часовом поясе, а часы передаются
// снаружи, поэтому в тестах время можно сдвигать вручную.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job описывает периодическое задание.
type Job struct {
	Name string
	// Spec задаёт расписание в стандартном формате cron из пяти полей или дескриптор (@hourly, @every 30m).
	Spec string
	Run  func(ctx context.Context)
}

type entry struct {
	job      Job
	schedule cron.Schedule
}

// Scheduler запускает задания независимо друг от друга.
type Scheduler struct {
	clock        clockwork.Clock
	loc          *time.Location
	startupDelay time.Duration
	logger       *zap.Logger

	entries []entry
}

// New создаёт планировщик. startupDelay задаёт паузу перед однократным запуском
// всех заданий при старте; 0 отключает такой запуск.
func New(clock clockwork.Clock, loc *time.Location, startupDelay time.Duration, logger *zap.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		clock:        clock,
		loc:          loc,
		startupDelay: startupDelay,
		logger:       logger,
	}
}

// Add регистрирует задание. Возвращает ошибку для некорректного расписания.
func (s *Scheduler) Add(job Job) error {
	sched, err := cron.ParseStandard(job.Spec)
	if err != nil {
		return fmt.Errorf("parse schedule %q for %s: %w", job.Spec, job.Name, err)
	}
	s.entries = append(s.entries, entry{job: job, schedule: sched})
	return nil
}

// NextRun возвращает ближайшее срабатывание расписания spec после момента after в часовом поясе loc.
func NextRun(spec string, after time.Time, loc *time.Location) (time.Time, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after.In(loc)), nil
}

// Run запускает задания и блокируется до отмены ctx. Запуски одного задания
// по расписанию не пересекаются; разные задания выполняются параллельно.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, e := range s.entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, e)
		}()
	}

	if s.startupDelay > 0 && len(s.entries) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.catchUp(ctx)
		}()
	}

	s.logger.Info("scheduler started",
		zap.Int("jobs", len(s.entries)),
		zap.String("timezone", s.loc.String()),
	)

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	for {
		now := s.clock.Now().In(s.loc)
		next := e.schedule.Next(now)
		if next.IsZero() {
			s.logger.Warn("schedule has no future runs", zap.String("job", e.job.Name))
			return
		}

		timer := s.clock.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		s.execute(ctx, e.job, "schedule")
	}
}

func (s *Scheduler) catchUp(ctx context.Context) {
	timer := s.clock.NewTimer(s.startupDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.Chan():
	}

	for _, e := range s.entries {
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, e.job, "startup")
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job, trigger string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked",
				zap.String("job", job.Name),
				zap.Any("panic", r),
			)
		}
	}()

	s.logger.Debug("job triggered", zap.String("job", job.Name), zap.String("trigger", trigger))
	job.Run(ctx)
}
