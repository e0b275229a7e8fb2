// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.astrophena.name/tootfeed/internal/cli"
	"go.astrophena.name/tootfeed/internal/cli/envflag"
	"go.astrophena.name/tootfeed/internal/errs"
	"go.astrophena.name/tootfeed/internal/feed"
	"go.astrophena.name/tootfeed/internal/httplogger"
	"go.astrophena.name/tootfeed/internal/logger"
	"go.astrophena.name/tootfeed/internal/profile"
	"go.astrophena.name/tootfeed/internal/publish"
	"go.astrophena.name/tootfeed/internal/systemd"
)

func main() { cli.Main(new(app)) }

type app struct {
	dryRun    bool
	schedule  string
	debug     *bool
	configDir *string

	httpc *http.Client // used in tests
}

func (a *app) Flags(fs *flag.FlagSet, getenv func(string) string) {
	fs.BoolVar(&a.dryRun, "dry-run", false, "Print statuses instead of posting them, and don't save the profile.")
	fs.StringVar(&a.schedule, "schedule", "", "Keep running and publish on this cron `schedule`, like \"*/15 * * * *\".")
	a.debug = envflag.Value(fs, getenv, "debug", "TOOTFEED_DEBUG", false, "Log debug messages.")
	a.configDir = envflag.Value(fs, getenv, "config-dir", "TOOTFEED_CONFIG_DIR", "", "Configuration `directory`. Defaults to $XDG_CONFIG_HOME/tootfeed.")
}

func (a *app) Run(ctx context.Context, env *cli.Env) error {
	if len(env.Args) != 1 {
		return fmt.Errorf("%w: exactly one profile name is required, see -help for usage", cli.ErrInvalidArgs)
	}
	name := env.Args[0]
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: invalid profile name %q", cli.ErrInvalidArgs, name)
	}

	err := a.run(ctx, env, name)
	var e *errs.Error
	if err != nil && !errors.As(err, &e) {
		return errs.E(errs.Unknown, "", err)
	}
	return err
}

func (a *app) run(ctx context.Context, env *cli.Env, name string) error {
	log := logger.New(env.Stderr)
	// Dry runs log at debug level.
	log.SetDebug(*a.debug || a.dryRun)
	ctx = logger.Put(ctx, log)

	dir, err := a.dir(env)
	if err != nil {
		return err
	}
	httpc := a.httpc
	if *a.debug {
		if httpc == nil {
			httpc = feed.DefaultClient
		}
		httpc = httplogger.Wrap(httpc, log.Logger)
	}
	pb := &publish.Publisher{
		Store:      &profile.Store{Dir: dir},
		HTTPClient: httpc,
		DryRun:     a.dryRun,
		Stdout:     env.Stdout,
	}

	if a.schedule != "" {
		sd := systemd.FromEnv(env.Getenv, log.Logger)
		return runScheduled(ctx, a.schedule, sd, func(ctx context.Context) {
			sum, err := pb.Run(ctx, name)
			if err != nil {
				log.Error("run failed", "profile", name, "kind", errs.KindOf(err), "error", err)
				sd.Notify(systemd.Status("last run failed: %s", failure(err)))
				return
			}
			sd.Notify(systemd.Status("last run posted %d of %d new items", sum.Posted, sum.New))
		})
	}
	_, err = pb.Run(ctx, name)
	return err
}

func (a *app) dir(env *cli.Env) (string, error) {
	if *a.configDir != "" {
		return *a.configDir, nil
	}
	base := env.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "tootfeed"), nil
}

// failure summarizes err for the service status line.
func failure(err error) string {
	if code := errs.StatusCode(err); code != 0 {
		return fmt.Sprintf("%s (HTTP %d)", errs.KindOf(err), code)
	}
	return errs.KindOf(err).String()
}
