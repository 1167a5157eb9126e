package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/oberien/binmerge"
	"github.com/oberien/binmerge/binmerge_errors"
	"github.com/oberien/binmerge/utils"
)

func main() {
	os.Exit(run())
}

func run() int {
	journal := pflag.String("journal", "", "directory for the persistent decision journal")
	debug := pflag.Bool("debug", false, "verbose logging")
	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: binmerge [flags] LEFT RIGHT [OUT]")
		fmt.Fprintln(os.Stderr, "without OUT the session is view-only")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	args := pflag.Args()
	if len(args) < 2 || len(args) > 3 {
		pflag.Usage()
		return 1
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := utils.NewDefaultLogger(level)

	sess, err := binmerge.NewSession(args[0], args[1], binmerge.Options{
		JournalDir: *journal,
		Logger:     log,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCode(err)
	}
	defer sess.Close()

	prometheus.MustRegister(
		binmerge.ScanBytes,
		binmerge.ScanRegions,
		binmerge.ScanDuration,
		binmerge.ApplyBytes,
		binmerge.ApplyDuration,
		binmerge.NewSessionCollector(sess),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sess.StartScan(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCode(err)
	}

	con := &Console{session: sess, dest: "", log: log}
	if len(args) == 3 {
		con.dest = args[2]
	}
	if err := con.Open(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer con.Close()
	return con.Run()
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, binmerge_errors.ErrOpen):
		return 2
	case errors.Is(err, binmerge_errors.ErrScanIncomplete):
		return 3
	case errors.Is(err, binmerge_errors.ErrUnresolvedDiff):
		return 4
	case errors.Is(err, binmerge_errors.ErrApply):
		return 5
	case errors.Is(err, binmerge_errors.ErrRead):
		return 6
	default:
		return 1
	}
}
