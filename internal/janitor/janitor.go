// Package janitor runs periodic housekeeping: cache sweeps and symbol table
// refreshes. Jobs receive a context that is cancelled by Stop.
package janitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"marketfeed/internal/logging"
	"marketfeed/internal/metrics"
)

// Job is one unit of periodic work.
type Job func(ctx context.Context) error

// every fires at a fixed delay. cron.Every truncates to whole seconds.
type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

type Janitor struct {
	cron   *cron.Cron
	log    *logrus.Entry
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

func New(log logrus.FieldLogger) *Janitor {
	entry := logging.Component(log, "janitor")
	l := cronLogger{entry}
	ctx, cancel := context.WithCancel(context.Background())
	return &Janitor{
		cron: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		log:    entry,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddInterval schedules job every d. Overlapping runs of the same job are skipped.
func (j *Janitor) AddInterval(name string, d time.Duration, job Job) error {
	if d <= 0 {
		return errors.New("janitor: interval must be positive")
	}
	j.cron.Schedule(every(d), cron.FuncJob(func() {
		j.run(name, job)
	}))
	return nil
}

// RunNow executes job once on the caller's goroutine.
func (j *Janitor) RunNow(name string, job Job) {
	j.run(name, job)
}

func (j *Janitor) run(name string, job Job) {
	if j.ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := job(j.ctx)
	metrics.JobRun(name, err == nil)
	entry := j.log.WithFields(logrus.Fields{"job": name, "took": time.Since(start).String()})
	if err != nil {
		entry.WithError(err).Warn("job failed")
		return
	}
	entry.Debug("job done")
}

func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}
	j.running = true
	j.cron.Start()
	j.log.WithField("jobs", len(j.cron.Entries())).Info("janitor started")
}

// Stop cancels in-flight jobs and returns once they have all returned.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel()
	if !j.running {
		return
	}
	j.running = false
	<-j.cron.Stop().Done()
	j.log.Info("janitor stopped")
}

// cronLogger routes cron's own messages through logrus.
type cronLogger struct{ e *logrus.Entry }

func (l cronLogger) Info(msg string, kv ...any) {
	l.e.WithFields(fields(kv)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.e.WithFields(fields(kv)).WithError(err).Error(msg)
}

func fields(kv []any) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			f[k] = kv[i+1]
		}
	}
	return f
}
