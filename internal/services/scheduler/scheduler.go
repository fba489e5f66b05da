// Package services запускает периодические задачи студии и разовые отложенные задания.
//
// Каждая периодическая задача работает в своей горутине. Паника или ошибка задачи
// пишется в лог и не останавливает остальные задачи.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/magabrotheeeer/yoga-studio/internal/lib/sl"
	"github.com/magabrotheeeer/yoga-studio/internal/metrics"
)

// Schedule вычисляет следующий запуск задачи.
type Schedule interface {
	Next(after time.Time) time.Time
}

type every time.Duration

// Every запускает задачу с интервалом d.
func Every(d time.Duration) Schedule {
	return every(d)
}

func (e every) Next(after time.Time) time.Time {
	return after.Add(time.Duration(e))
}

type dailyAt struct {
	hour, minute int
	loc          *time.Location
}

// DailyAt запускает задачу каждый день в hour:minute часового пояса loc.
func DailyAt(hour, minute int, loc *time.Location) Schedule {
	if loc == nil {
		loc = time.UTC
	}
	return dailyAt{hour: hour, minute: minute, loc: loc}
}

// ParseDailyAt разбирает время в формате "15:04".
func ParseDailyAt(s string, loc *time.Location) (Schedule, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid daily time %q: %w", s, err)
	}
	return DailyAt(t.Hour(), t.Minute(), loc), nil
}

func (d dailyAt) Next(after time.Time) time.Time {
	local := after.In(d.loc)
	y, m, day := local.Date()
	next := time.Date(y, m, day, d.hour, d.minute, 0, 0, d.loc)
	if !next.After(local) {
		next = time.Date(y, m, day+1, d.hour, d.minute, 0, 0, d.loc)
	}
	return next
}

// Task периодическая задача.
type Task struct {
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context) error
	// RunOnStart запускает задачу сразу при старте, не дожидаясь расписания.
	RunOnStart bool
}

// Job разовое задание.
type Job struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

type onceJob struct {
	at    time.Time
	timer *time.Timer
}

// Driver запускает периодические задачи и разовые задания.
type Driver struct {
	tasks   []Task
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// ctx ограничивает жизнь разовых заданий, отменяется при остановке Run.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	jobs map[string]*onceJob
}

// Option настраивает Driver.
type Option func(*Driver)

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// New создаёт Driver с таблицей задач tasks.
func New(log *slog.Logger, tasks []Task, opts ...Option) *Driver {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		tasks:  tasks,
		log:    log,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*onceJob),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run запускает задачи и блокируется до отмены ctx. После отмены новые запуски
// не начинаются, а уже идущие задачи дорабатывают.
func (d *Driver) Run(ctx context.Context) error {
	for _, t := range d.tasks {
		d.log.Info("periodic task registered", slog.String("task", t.Name))
		d.wg.Add(1)
		go d.loop(ctx, t)
	}

	<-ctx.Done()
	d.log.Info("stopping scheduler")

	d.mu.Lock()
	for id, job := range d.jobs {
		job.timer.Stop()
		delete(d.jobs, id)
	}
	d.mu.Unlock()
	d.cancel()

	d.wg.Wait()
	return nil
}

func (d *Driver) loop(ctx context.Context, t Task) {
	defer d.wg.Done()

	if t.RunOnStart {
		d.runTask(ctx, t.Name, t.Run)
	}
	for {
		now := d.now()
		timer := time.NewTimer(t.Schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		d.runTask(ctx, t.Name, t.Run)
	}
}

// runTask выполняет задачу, перехватывая панику.
func (d *Driver) runTask(ctx context.Context, name string, fn func(context.Context) error) {
	log := d.log.With(slog.String("task", name))
	start := time.Now()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				log.Error("task panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			}
		}()
		err = fn(ctx)
	}()

	elapsed := time.Since(start)
	d.metrics.SweepRun(name, elapsed.Seconds(), err)
	if err != nil {
		log.Error("task failed", sl.Err(err), slog.Duration("elapsed", elapsed))
		return
	}
	log.Debug("task finished", slog.Duration("elapsed", elapsed))
}

// ScheduleOnce планирует разовое задание id на момент at. Задание с тем же id
// заменяется. Момент в прошлом сдвигается на секунду вперёд от текущего времени.
func (d *Driver) ScheduleOnce(id string, at time.Time, fn func(ctx context.Context) error) {
	now := d.now()
	if !at.After(now) {
		at = now.Add(time.Second)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.jobs[id]; ok {
		prev.timer.Stop()
	}
	job := &onceJob{at: at}
	job.timer = time.AfterFunc(at.Sub(now), func() {
		d.mu.Lock()
		if d.jobs[id] != job {
			d.mu.Unlock()
			return
		}
		delete(d.jobs, id)
		d.wg.Add(1)
		d.mu.Unlock()

		defer d.wg.Done()
		d.runTask(d.ctx, id, fn)
	})
	d.jobs[id] = job
	d.log.Debug("one-shot job scheduled", slog.String("job_id", id), slog.Time("at", at))
}

// CancelOnce отменяет разовое задание. Возвращает false, если задания нет.
func (d *Driver) CancelOnce(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	job, ok := d.jobs[id]
	if !ok {
		return false
	}
	job.timer.Stop()
	delete(d.jobs, id)
	return true
}

// Jobs возвращает запланированные разовые задания по времени запуска.
func (d *Driver) Jobs() []Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Job, 0, len(d.jobs))
	for id, job := range d.jobs {
		out = append(out, Job{ID: id, At: job.at})
	}
	slices.SortFunc(out, func(a, b Job) int {
		if c := a.At.Compare(b.At); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
