package jobserver_test

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowqueue/jobserver"
	"github.com/flowqueue/jobserver/inmemory"
)

func ExampleManager() {
	// Create a new manager with a single server consuming the default queue.
	m := jobserver.New(
		jobserver.SetServerName("example-server"),
		jobserver.SetGateway(inmemory.New()),
		jobserver.SetConcurrency(2),
	)

	// Register the function for target type "crawler".
	jobDone := make(chan struct{}, 1)
	err := m.RegisterFunc("crawler", func(ctx context.Context, args []json.RawMessage) error {
		var url string
		if err := json.Unmarshal(args[0], &url); err != nil {
			return err
		}
		fmt.Printf("Crawl %s\n", url)
		jobDone <- struct{}{}
		return nil
	})
	if err != nil {
		fmt.Println("RegisterFunc failed")
		return
	}

	// Start the manager.
	if err := m.Start(); err != nil {
		fmt.Println("Start failed")
		return
	}
	fmt.Println("Started")

	// Add a new crawl job.
	arg, _ := json.Marshal("https://alt-f4.de")
	job := &jobserver.Job{TargetType: "crawler", Args: []json.RawMessage{arg}}
	if err := m.Add(context.Background(), job); err != nil {
		fmt.Println("Add failed")
		return
	}
	fmt.Println("Job added")

	// Wait for the crawl job to complete.
	select {
	case <-jobDone:
	case <-time.After(5 * time.Second):
		fmt.Println("Job timed out")
		return
	}

	// Stop/Close the manager.
	if err := m.Stop(); err != nil {
		fmt.Println("Stop failed")
		return
	}
	fmt.Println("Stopped")

	// Output:
	// Started
	// Job added
	// Crawl https://alt-f4.de
	// Stopped
}
