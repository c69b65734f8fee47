package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/ghalamif/SigFlow"
)

func main() {
	flow, err := sigflow.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := flow.Run(ctx)
	if err != nil {
		log.Fatalf("capture failed: %v", err)
	}
	fmt.Printf("captured %d samples (%s)\n", summary.Samples, summary.CaptureID)
}
