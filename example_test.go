package atomgo_test

import (
	"context"
	"fmt"
	"log"

	atomgo "github.com/hupe1980/atomgo"
	"github.com/hupe1980/atomgo/core"
	"github.com/hupe1980/atomgo/ingest"
)

func Example() {
	ctx := context.Background()

	ag, err := atomgo.Open(ctx,
		atomgo.WithDataDir(""),
		atomgo.WithAutonomy(false),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer ag.Close()

	job, err := ag.Ingest(ctx, ingest.Spec{
		Source:     ingest.BytesSource([]byte("hello atom store")),
		Decomposer: &ingest.FixedSizeDecomposer{PayloadSize: 4, Modality: core.ModalityText},
		Modality:   core.ModalityText,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Poll until the background job finishes.
	var status ingest.Snapshot
	for {
		status, err = ag.JobStatus(job.ID())
		if err != nil {
			log.Fatal(err)
		}
		if status.Status == ingest.StatusComplete {
			break
		}
	}

	payload, err := ag.Reconstruct(status.RootAtomID)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(string(payload))
	// Output: hello atom store
}
