// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

// Command jobserverd runs one server process against a Redis-backed
// job store, generalizing the teacher's e2e/main.go harness (which drove
// an in-process mysql.Store demo) into a standalone daemon meant to be
// run for real, with graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowqueue/jobserver"
	"github.com/flowqueue/jobserver/config"
	"github.com/flowqueue/jobserver/redisstore"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	gwFactory := func() (jobserver.Gateway, error) {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, err
		}
		return redisstore.New(client, redisstore.WithKeyPrefix(cfg.KeyPrefix)), nil
	}

	var options []jobserver.ManagerOption
	options = append(options,
		jobserver.SetServerName(cfg.ServerName),
		jobserver.SetQueueName(cfg.QueueName),
		jobserver.SetGatewayFactory(gwFactory),
		jobserver.SetPollInterval(cfg.PollInterval),
	)
	if cfg.Concurrency > 0 {
		options = append(options, jobserver.SetConcurrency(cfg.Concurrency))
	}

	m := jobserver.New(options...)

	if err := m.Start(); err != nil {
		log.Fatal(err)
	}
	log.Printf("jobserverd: %s listening on queue %q", cfg.ServerName, cfg.QueueName)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	log.Printf("jobserverd: received %v, shutting down", sig)

	done := make(chan error, 1)
	go func() { done <- m.Close() }()

	select {
	case err := <-done:
		if err != nil {
			log.Fatal(err)
		}
	case <-time.After(cfg.ShutdownTimeout):
		log.Fatal("jobserverd: shutdown timed out, exiting anyway")
	}
	log.Print("jobserverd: exited cleanly")
}
