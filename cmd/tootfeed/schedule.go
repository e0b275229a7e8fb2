// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"go.astrophena.name/tootfeed/internal/errs"
	"go.astrophena.name/tootfeed/internal/logger"
	"go.astrophena.name/tootfeed/internal/systemd"
)

// runScheduled calls job on every tick of the cron schedule spec until ctx is
// done. A tick that comes while job is still running is skipped. sd, if not
// nil, is told when the scheduler is ready and when it stops.
func runScheduled(ctx context.Context, spec string, sd *systemd.Notifier, job func(context.Context)) error {
	log := logger.Get(ctx)
	cl := cronLogger{log.Logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(spec, func() { job(ctx) }); err != nil {
		return errs.E(errs.Configuration, "schedule", fmt.Errorf("invalid schedule %q: %w", spec, err))
	}

	c.Start()
	go sd.WatchdogLoop(ctx)
	sd.Notify(systemd.Ready, systemd.Status("waiting for schedule %q", spec))
	log.Info("waiting for schedule", "schedule", spec)
	<-ctx.Done()
	sd.Notify(systemd.Stopping)
	<-c.Stop().Done()
	log.Info("stopped")
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
