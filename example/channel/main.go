package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ghalamif/SigFlow"
)

func main() {
	cfg := sigflow.DefaultConfig()
	cfg.Demo.Pattern = "random"
	cfg.Metrics.Addr = ""

	flow, err := sigflow.ConfFromConfig(cfg)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	sink, batches, closeBatches := sigflow.NewChannelSink("fanout", 32)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fanoutWorker("pulses", batches)
	}()

	_, err = flow.
		Decode("pulse", map[string]string{"data": "D3"}, map[string]string{"polarity": "high"}).
		Sink(sink).
		Run(context.Background())
	closeBatches()
	wg.Wait()
	if err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, batches <-chan []sigflow.ExportedAnnotation) {
	for batch := range batches {
		fmt.Printf("[%s] forwarding %d annotations at %s\n", name, len(batch), time.Now().Format(time.RFC3339))
	}
}
