// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Package config parses the flags cmd/jobserverd needs to start a
// Manager, the same flag-driven style the teacher used in its e2e
// harness (e2e/main.go) rather than a third-party config library: the
// binary has a handful of knobs, all expressible with the standard
// library's flag package, and the teacher never reached for anything
// heavier for this.
package config

import (
	"flag"
	"fmt"
	"time"
)

// Config holds everything needed to construct and run one server
// process.
type Config struct {
	ServerName      string
	QueueName       string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	KeyPrefix       string
	Concurrency     int
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
}

// Parse builds a Config from args (pass os.Args[1:] in production, a
// fixed slice in tests). It never calls os.Exit; validation errors are
// returned so the caller decides how to report them.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("jobserverd", flag.ContinueOnError)

	cfg := &Config{}
	fs.StringVar(&cfg.ServerName, "server", "", "cluster-unique server name (required)")
	fs.StringVar(&cfg.QueueName, "queue", "default", "queue to consume from")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "127.0.0.1:6379", "Redis address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", 0, "Redis logical database")
	fs.StringVar(&cfg.KeyPrefix, "key-prefix", "jobserver", "Redis key namespace")
	fs.IntVar(&cfg.Concurrency, "concurrency", 0, "maximum number of workers (0: 2x logical CPUs)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", 15*time.Second, "schedule poller period and heartbeat period")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "time to wait for in-flight jobs on shutdown")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ServerName == "" {
		return nil, fmt.Errorf("config: -server is required")
	}
	return cfg, nil
}
