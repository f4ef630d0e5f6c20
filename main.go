package main

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

func main() {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	if err := newRootCmd(logger).Execute(); err != nil {
		level.Error(logger).Log("err", err)
		os.Exit(1)
	}
}
