package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"logstore/config"
	"logstore/storage"
	"logstore/storage/lss"
)

type rootOptions struct {
	configPath string
	path       string
}

func newRootCmd(logger log.Logger) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "logstore",
		Short:         "Log-structured storage toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file, defaults are used when empty")
	root.PersistentFlags().StringVar(&opts.path, "path", "", "log file path, overrides the config")

	root.AddCommand(
		newBenchCmd(logger, opts),
		newDumpCmd(logger, opts),
		newPunchCmd(logger, opts),
		newStatCmd(logger, opts),
	)

	return root
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)

	if err != nil {
		return cfg, err
	}

	if o.path != "" {
		cfg.Path = o.path
	}

	return cfg, nil
}

func (o *rootOptions) open(logger log.Logger, registerer prometheus.Registerer) (*lss.Store, error) {
	cfg, err := o.load()

	if err != nil {
		return nil, err
	}

	return lss.Open(logger, registerer, cfg)
}

func closeStore(logger log.Logger, s *lss.Store) {
	if err := s.Close(); err != nil {
		level.Error(logger).Log("msg", "close log", "err", err)
	}
}

func newBenchCmd(logger log.Logger, opts *rootOptions) *cobra.Command {
	var (
		writers  int
		size     string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Append records from concurrent writers until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			payloadSize, err := bytefmt.ToBytes(size)

			if err != nil {
				return errors.Wrapf(err, "parse size %q", size)
			}

			if writers < 1 {
				return errors.Errorf("writers must be positive, got %d", writers)
			}

			s, err := opts.open(logger, prometheus.NewRegistry())

			if err != nil {
				return err
			}

			defer closeStore(logger, s)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			payload := make([]byte, payloadSize)
			records := atomic.NewUint64(0)
			start := time.Now()

			level.Info(logger).Log("msg", "bench started", "writers", writers, "size", bytefmt.ByteSize(payloadSize))

			g, ctx := errgroup.WithContext(ctx)

			for i := 0; i < writers; i++ {
				g.Go(func() error {
					for ctx.Err() == nil {
						if _, err := s.Write(payload); err != nil {
							return err
						}

						records.Inc()
					}

					return nil
				})
			}

			if err := g.Wait(); err != nil {
				return err
			}

			if err := s.MakeStable(s.Tip()); err != nil {
				return err
			}

			elapsed := time.Since(start)
			n := records.Load()

			level.Info(logger).Log(
				"msg", "bench finished",
				"records", n,
				"bytes", bytefmt.ByteSize(n*payloadSize),
				"elapsed", elapsed,
				"records_per_sec", fmt.Sprintf("%.0f", float64(n)/elapsed.Seconds()),
				"stable", s.StableOffset(),
			)

			return nil
		},
	}

	cmd.Flags().IntVar(&writers, "writers", 4, "number of concurrent writers")
	cmd.Flags().StringVar(&size, "size", "128B", "payload size of every record")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to run, zero runs until interrupted")

	return cmd
}

func newDumpCmd(logger log.Logger, opts *rootOptions) *cobra.Command {
	var from uint64

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print offset and length of every stable record",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(logger, nil)

			if err != nil {
				return err
			}

			defer closeStore(logger, s)

			out := cmd.OutOrStdout()
			it := s.IterFrom(storage.LogID(from))

			for id, payload := range it.All() {
				fmt.Fprintf(out, "%d %d\n", id, len(payload))
			}

			if err := it.Err(); err != nil {
				return err
			}

			if err := it.Corruption(); err != nil {
				level.Warn(logger).Log("msg", "log ends in a corrupted record", "offset", it.Offset(), "err", err)
			}

			return nil
		},
	}

	cmd.Flags().Uint64Var(&from, "from", 0, "offset of the first record to print")

	return cmd
}

func newPunchCmd(logger log.Logger, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "punch <offset>",
		Short: "Release the disk space of a stable record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)

			if err != nil {
				return errors.Wrapf(err, "parse offset %q", args[0])
			}

			s, err := opts.open(logger, nil)

			if err != nil {
				return err
			}

			defer closeStore(logger, s)

			if err := s.PunchHole(storage.LogID(id)); err != nil {
				return err
			}

			level.Info(logger).Log("msg", "hole punched", "offset", id)

			return nil
		},
	}
}

func newStatCmd(logger log.Logger, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stat",
		Short: "Print the tip and stable offset of the log",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(logger, nil)

			if err != nil {
				return err
			}

			defer closeStore(logger, s)

			cfg := s.Config()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "path\t%s\n", cfg.Path)
			fmt.Fprintf(out, "tip\t%d\n", s.Tip())
			fmt.Fprintf(out, "stable\t%d\n", s.StableOffset())
			fmt.Fprintf(out, "max_record_size\t%s\n", cfg.MaxRecordSize)
			fmt.Fprintf(out, "buffer_capacity\t%s\n", cfg.BufferCapacity)
			fmt.Fprintf(out, "ring_size\t%d\n", cfg.RingSize)

			return nil
		},
	}
}
