// Package sweeper переводит истекающие сущности платформы в новые состояния.
//
// Один алгоритм обслуживает объявления, членство, партнёрство и промокоды.
// Для каждого типа есть два перехода: предупреждение о скором окончании срока
// и перевод в expired. Оба перехода идемпотентны благодаря флагам в хранилище:
// флаг устанавливается условным обновлением, и уведомление отправляет только
// тот запуск, который это обновление выиграл.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/holidayd/internal/metrics"
	"github.com/mmeshcher/holidayd/internal/model"
)

// Mode задаёт тип перехода, выполняемого запуском.
type Mode string

const (
	ModeWarn   Mode = "warn"
	ModeExpire Mode = "expire"
)

// Modes перечисляет все режимы.
var Modes = []Mode{ModeWarn, ModeExpire}

// ParseMode разбирает режим запуска.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "warn", "warning", "warnings":
		return ModeWarn, nil
	case "expire", "expiry", "expired":
		return ModeExpire, nil
	}
	return "", fmt.Errorf("unknown sweep mode %q", s)
}

// Store описывает операции хранилища, нужные чистильщику.
type Store interface {
	FindWarningCandidates(ctx context.Context, kind model.EntityKind, from, to time.Time, limit int) ([]model.Expirable, error)
	FindExpiredCandidates(ctx context.Context, kind model.EntityKind, now time.Time, limit int) ([]model.Expirable, error)
	ClaimWarning(ctx context.Context, kind model.EntityKind, id int64, now time.Time) (bool, error)
	ExpireEntity(ctx context.Context, kind model.EntityKind, id int64, now time.Time) (changed, notify bool, err error)
}

// Notifier отправляет уведомления владельцам сущностей.
type Notifier interface {
	ExpirationWarning(ctx context.Context, e model.Expirable) error
	Expired(ctx context.Context, e model.Expirable) error
}

// Policy задаёт окно предупреждения (now+WarnMin, now+WarnMax] для типа сущности.
type Policy struct {
	WarnMin time.Duration
	WarnMax time.Duration
}

// DefaultPolicies содержит окна предупреждений по умолчанию.
var DefaultPolicies = map[model.EntityKind]Policy{
	model.KindAdvertisement:     {WarnMin: 6 * time.Hour, WarnMax: 24 * time.Hour},
	model.KindMembership:        {WarnMin: 24 * time.Hour, WarnMax: 72 * time.Hour},
	model.KindCommercialPartner: {WarnMin: 0, WarnMax: 7 * 24 * time.Hour},
	model.KindPromoCode:         {WarnMin: 0, WarnMax: 7 * 24 * time.Hour},
}

// Config задаёт размеры запуска.
type Config struct {
	// Limit ограничивает число кандидатов за один запуск.
	Limit int
	// BatchSize задаёт число кандидатов, обрабатываемых параллельно.
	BatchSize int
	// BatchDelay — пауза между пакетами; 0 отключает паузу.
	BatchDelay time.Duration
}

// DefaultConfig возвращает параметры запуска по умолчанию.
func DefaultConfig() Config {
	return Config{
		Limit:      100,
		BatchSize:  10,
		BatchDelay: time.Second,
	}
}

// Result содержит итог одного запуска.
type Result struct {
	Job          string        `json:"job"`
	Success      bool          `json:"success"`
	Total        int           `json:"total"`
	Processed    int           `json:"processed"`
	Failed       int           `json:"failed"`
	NotifyFailed int           `json:"notify_failed"`
	Skipped      bool          `json:"skipped,omitempty"`
	Err          error         `json:"-"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// JobName возвращает имя задания для пары (тип, режим).
func JobName(kind model.EntityKind, mode Mode) string {
	return string(kind) + ":" + string(mode)
}

// Sweeper выполняет запуски для всех типов сущностей.
type Sweeper struct {
	store    Store
	notifier Notifier
	clock    clockwork.Clock
	cfg      Config
	policies map[model.EntityKind]Policy
	logger   *zap.Logger

	mu      sync.Mutex
	running map[string]bool
}

// New создаёт чистильщик. Пустые policies заменяются на DefaultPolicies.
func New(store Store, notifier Notifier, clock clockwork.Clock, cfg Config, logger *zap.Logger, policies map[model.EntityKind]Policy) *Sweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(policies) == 0 {
		policies = DefaultPolicies
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultConfig().Limit
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Sweeper{
		store:    store,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		policies: policies,
		logger:   logger,
		running:  make(map[string]bool),
	}
}

func (s *Sweeper) acquire(job string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[job] {
		return false
	}
	s.running[job] = true
	return true
}

func (s *Sweeper) release(job string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, job)
}

// Run выполняет один запуск для типа kind в режиме mode.
// Ошибка выборки кандидатов прерывает запуск (Success=false); ошибки отдельных
// кандидатов только учитываются в счётчиках. Повторный запуск того же задания,
// пока предыдущий не завершился, пропускается.
func (s *Sweeper) Run(ctx context.Context, kind model.EntityKind, mode Mode) Result {
	job := JobName(kind, mode)
	res := Result{Job: job}

	if !s.acquire(job) {
		res.Success = true
		res.Skipped = true
		metrics.SweepRuns.WithLabelValues(job, "skipped").Inc()
		s.logger.Info("sweep skipped, previous run still in progress", zap.String("job", job))
		return res
	}
	defer s.release(job)

	start := s.clock.Now()

	candidates, err := s.candidates(ctx, kind, mode, start)
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		res.Duration = s.clock.Since(start)
		metrics.SweepRuns.WithLabelValues(job, "failure").Inc()
		s.logger.Error("sweep query failed", zap.String("job", job), zap.Error(err))
		return res
	}
	res.Total = len(candidates)

	for i := 0; i < len(candidates); i += s.cfg.BatchSize {
		if i > 0 && s.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-s.clock.After(s.cfg.BatchDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			res.Err = err
			res.Error = err.Error()
			break
		}

		end := min(i+s.cfg.BatchSize, len(candidates))
		s.runBatch(ctx, mode, candidates[i:end], start, &res)
	}

	res.Success = res.Err == nil
	res.Duration = s.clock.Since(start)

	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	metrics.SweepRuns.WithLabelValues(job, outcome).Inc()
	metrics.SweepEntities.WithLabelValues(job, "processed").Add(float64(res.Processed))
	metrics.SweepEntities.WithLabelValues(job, "failed").Add(float64(res.Failed))
	metrics.SweepEntities.WithLabelValues(job, "notify_failed").Add(float64(res.NotifyFailed))
	metrics.SweepDuration.WithLabelValues(job).Observe(res.Duration.Seconds())

	s.logger.Info("sweep finished",
		zap.String("job", job),
		zap.Bool("success", res.Success),
		zap.Int("total", res.Total),
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
		zap.Int("notify_failed", res.NotifyFailed),
		zap.Duration("duration", res.Duration),
	)
	return res
}

func (s *Sweeper) candidates(ctx context.Context, kind model.EntityKind, mode Mode, now time.Time) ([]model.Expirable, error) {
	switch mode {
	case ModeWarn:
		p, ok := s.policies[kind]
		if !ok {
			return nil, fmt.Errorf("no warning policy for %s", kind)
		}
		return s.store.FindWarningCandidates(ctx, kind, now.Add(p.WarnMin), now.Add(p.WarnMax), s.cfg.Limit)
	case ModeExpire:
		return s.store.FindExpiredCandidates(ctx, kind, now, s.cfg.Limit)
	}
	return nil, fmt.Errorf("unknown sweep mode %q", mode)
}

type outcome int

const (
	outcomeLost outcome = iota
	outcomeProcessed
	outcomeNotifyFailed
	outcomeFailed
)

// runBatch обрабатывает пакет параллельно и дожидается всех кандидатов, в том числе неудачных.
func (s *Sweeper) runBatch(ctx context.Context, mode Mode, batch []model.Expirable, now time.Time, res *Result) {
	outcomes := make([]outcome, len(batch))

	var g errgroup.Group
	for i, e := range batch {
		g.Go(func() error {
			outcomes[i] = s.handle(ctx, mode, e, now)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		switch o {
		case outcomeProcessed:
			res.Processed++
		case outcomeNotifyFailed:
			res.Processed++
			res.NotifyFailed++
		case outcomeFailed:
			res.Failed++
		}
	}
}

func (s *Sweeper) handle(ctx context.Context, mode Mode, e model.Expirable, now time.Time) outcome {
	log := s.logger.With(
		zap.String("kind", string(e.Kind)),
		zap.String("mode", string(mode)),
		zap.Int64("id", e.ID),
	)

	var (
		won, mailing bool
		err          error
		notify       func(context.Context, model.Expirable) error
	)
	switch mode {
	case ModeWarn:
		won, err = s.store.ClaimWarning(ctx, e.Kind, e.ID, now)
		mailing = won
		notify = s.notifier.ExpirationWarning
	case ModeExpire:
		won, mailing, err = s.store.ExpireEntity(ctx, e.Kind, e.ID, now)
		notify = s.notifier.Expired
	}
	if err != nil {
		log.Error("state transition failed", zap.Error(err))
		return outcomeFailed
	}
	if !won {
		log.Debug("already handled by another run")
		return outcomeLost
	}

	if mode == ModeExpire {
		e.Status = model.StatusExpired
		e.ExpiredSent = true
	}
	if !mailing {
		log.Info("expired without notification, owner was already notified")
		return outcomeProcessed
	}

	if err := notify(ctx, e); err != nil {
		log.Warn("notification failed", zap.Error(err))
		return outcomeNotifyFailed
	}
	return outcomeProcessed
}

// RunAll выполняет запуски для всех типов сущностей в обоих режимах.
func (s *Sweeper) RunAll(ctx context.Context) []Result {
	res := make([]Result, 0, len(model.EntityKinds)*len(Modes))
	for _, kind := range model.EntityKinds {
		for _, mode := range Modes {
			res = append(res, s.Run(ctx, kind, mode))
		}
	}
	return res
}
