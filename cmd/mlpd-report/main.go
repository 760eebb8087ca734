// main.go: mlpd-report, the offline trace report generator
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agilira/mlpd/decode"
	"github.com/agilira/mlpd/report"
)

const (
	exitOK          = 0
	exitFormatError = 1
	exitMissingFile = 2
)

type cliOptions struct {
	traces     bool
	maxFrames  int
	reports    string
	methodSort string
	allocSort  string
	track      string
	find       string
	thread     string
	timeWindow string
	out        string
	verbose    bool
	debug      bool
}

func main() {
	opts := &cliOptions{}

	cmd := &cobra.Command{
		Use:           "mlpd-report [flags] FILE",
		Short:         "Generate aggregate reports from an MLPD trace file",
		Long:          "mlpd-report decodes an MLPD binary trace (plain or gzipped, or - for stdin)\nand prints aggregate reports: allocations, call times, GC pauses, monitor\ncontention, statistical samples, heap shots and more.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return missingFileError{}
			}
			return run(args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.traces, "traces", false, "show backtrace detail in reports")
	flags.IntVar(&opts.maxFrames, "maxframes", 8, "maximum frames shown per backtrace")
	flags.StringVar(&opts.reports, "reports", report.AllReports, "comma-separated report sections")
	flags.StringVar(&opts.methodSort, "method-sort", "total", "method sort order: total, self or calls")
	flags.StringVar(&opts.allocSort, "alloc-sort", "bytes", "allocation sort order: bytes or count")
	flags.StringVar(&opts.track, "track", "", "comma-separated object addresses to track")
	flags.StringVar(&opts.find, "find", "", "find objects: S:minsize or T:typename")
	flags.StringVar(&opts.thread, "thread", "", "restrict reports to one thread id")
	flags.StringVar(&opts.timeWindow, "time", "", "restrict reports to FROM-TO seconds")
	flags.StringVar(&opts.out, "out", "", "write reports to a file instead of stdout")
	flags.BoolVar(&opts.verbose, "verbose", false, "increase report detail")
	flags.BoolVar(&opts.debug, "debug", false, "log decoder internals")

	if err := cmd.Execute(); err != nil {
		if _, ok := err.(missingFileError); ok {
			fmt.Fprintln(os.Stderr, "mlpd-report: missing trace file argument")
			os.Exit(exitMissingFile)
		}
		fmt.Fprintf(os.Stderr, "mlpd-report: %v\n", err)
		os.Exit(exitFormatError)
	}
	os.Exit(exitOK)
}

type missingFileError struct{}

func (missingFileError) Error() string { return "missing trace file argument" }

func run(path string, opts *cliOptions) error {
	var logger *zap.Logger
	if opts.debug {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
	} else {
		logger = zap.NewNop()
	}

	ropts, err := buildOptions(opts)
	if err != nil {
		return err
	}

	in := os.Stdin
	if path != "-" {
		in, err = os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = in.Close() }()
	}

	out := os.Stdout
	if opts.out != "" {
		out, err = os.Create(opts.out)
		if err != nil {
			return err
		}
		defer func() { _ = out.Close() }()
	}

	d, err := decode.NewDecoder(in)
	if err != nil {
		return err
	}
	logger.Debug("trace header decoded",
		zap.Int("data_version", d.Header().DataVersion),
		zap.Uint32("pid", d.Header().Pid))

	profile, err := report.Analyze(d, ropts)
	if err != nil {
		return err
	}
	for _, diag := range profile.Diagnostics {
		logger.Debug("decoder diagnostic", zap.String("message", diag))
	}

	return profile.Write(out, opts.reports)
}

func buildOptions(opts *cliOptions) (report.Options, error) {
	ropts := report.Options{
		Traces:     opts.traces,
		MaxFrames:  opts.maxFrames,
		MethodSort: opts.methodSort,
		AllocSort:  opts.allocSort,
		Verbose:    opts.verbose,
	}

	switch opts.methodSort {
	case "total", "self", "calls":
	default:
		return ropts, fmt.Errorf("invalid method sort: %s", opts.methodSort)
	}
	switch opts.allocSort {
	case "bytes", "count":
	default:
		return ropts, fmt.Errorf("invalid alloc sort: %s", opts.allocSort)
	}
	for _, name := range strings.Split(opts.reports, ",") {
		if name != "" && !report.ValidReport(strings.TrimSpace(name)) {
			return ropts, fmt.Errorf("unknown report: %s", name)
		}
	}

	if opts.track != "" {
		for _, part := range strings.Split(opts.track, ",") {
			addr, err := strconv.ParseUint(strings.TrimPrefix(part, "0x"), 16, 64)
			if err != nil {
				return ropts, fmt.Errorf("invalid track address: %s", part)
			}
			ropts.TrackAddrs = append(ropts.TrackAddrs, addr)
		}
	}

	if opts.find != "" {
		switch {
		case strings.HasPrefix(opts.find, "S:"):
			size, err := strconv.ParseUint(opts.find[2:], 10, 64)
			if err != nil {
				return ropts, fmt.Errorf("invalid find size: %s", opts.find)
			}
			ropts.FindSize = size
		case strings.HasPrefix(opts.find, "T:"):
			ropts.FindName = opts.find[2:]
		default:
			return ropts, fmt.Errorf("invalid find spec: %s (use S:size or T:name)", opts.find)
		}
	}

	if opts.thread != "" {
		tid, err := strconv.ParseUint(strings.TrimPrefix(opts.thread, "0x"), 16, 64)
		if err != nil {
			tid, err = strconv.ParseUint(opts.thread, 10, 64)
			if err != nil {
				return ropts, fmt.Errorf("invalid thread id: %s", opts.thread)
			}
		}
		ropts.ThreadID = tid
	}

	if opts.timeWindow != "" {
		from, to, ok := strings.Cut(opts.timeWindow, "-")
		if !ok {
			return ropts, fmt.Errorf("invalid time window: %s (use FROM-TO)", opts.timeWindow)
		}
		var err error
		if ropts.TimeFrom, err = strconv.ParseFloat(from, 64); err != nil {
			return ropts, fmt.Errorf("invalid time window start: %s", from)
		}
		if ropts.TimeTo, err = strconv.ParseFloat(to, 64); err != nil {
			return ropts, fmt.Errorf("invalid time window end: %s", to)
		}
	}

	return ropts, nil
}
