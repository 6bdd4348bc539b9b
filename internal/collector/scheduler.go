package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner performs one full collection invocation.
type Runner interface {
	Run(ctx context.Context) ([]PassResult, error)
}

// Scheduler triggers a Runner on a cron schedule. A tick that fires while the
// previous invocation is still running is skipped.
type Scheduler struct {
	runner     Runner
	spec       string
	runOnStart bool
	logger     *zap.Logger
}

// NewScheduler constructs a Scheduler for a standard five-field cron spec
// (descriptors such as "@every 15m" are accepted too).
func NewScheduler(runner Runner, spec string, runOnStart bool, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{runner: runner, spec: spec, runOnStart: runOnStart, logger: logger.Named("scheduler")}
}

// Start blocks until ctx is cancelled, then waits for any running invocation,
// the initial one included, to return.
func (s *Scheduler) Start(ctx context.Context) error {
	cronLogger := cronLogger{logger: s.logger}
	c := cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cronLogger))
	chain := cron.NewChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))
	job := chain.Then(cron.FuncJob(func() { s.invoke(ctx) }))
	if _, err := c.AddJob(s.spec, job); err != nil {
		return fmt.Errorf("parse collector schedule %q: %w", s.spec, err)
	}

	// cron only tracks the jobs it started itself.
	var initial sync.WaitGroup
	if s.runOnStart {
		// Same wrapped job, so a scheduled tick during the initial run is skipped.
		initial.Add(1)
		go func() {
			defer initial.Done()
			job.Run()
		}()
	}

	c.Start()
	s.logger.Info("collector scheduled", zap.String("schedule", s.spec))
	<-ctx.Done()
	<-c.Stop().Done()
	initial.Wait()
	return nil
}

func (s *Scheduler) invoke(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	results, err := s.runner.Run(ctx)
	fields := []zap.Field{zap.Duration("elapsed", time.Since(started))}
	for _, pass := range results {
		fields = append(fields, zap.Int(string(pass.Stream)+"_failed", len(pass.Failed())))
	}
	if err != nil {
		s.logger.Error("collection run failed", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Info("collection run finished", fields...)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
