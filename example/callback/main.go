package main

import (
	"context"
	"fmt"
	"log"

	"github.com/ghalamif/SigFlow/pkg/sigflow"
)

func main() {
	cfg := sigflow.DefaultConfig()
	cfg.Device.SampleLimit = 200_000
	cfg.Metrics.Addr = ""

	flow, err := sigflow.ConfFromConfig(cfg)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	callback := func(batch []sigflow.ExportedAnnotation) error {
		for _, a := range batch {
			fmt.Printf("%s %s %d-%d %v\n",
				a.CaptureID,
				a.Annotation.DecoderID,
				a.Annotation.StartSample,
				a.Annotation.EndSample,
				a.Annotation.Texts,
			)
		}
		return nil
	}

	_, err = flow.
		Decode("edges", map[string]string{"data": "D0"}, nil).
		Callback("stdout", callback).
		Run(context.Background())
	if err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}
