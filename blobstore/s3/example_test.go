package s3_test

import (
	"context"
	"log"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hupe1980/atomgo/blobstore/s3"
)

func ExampleNewStore() {
	ctx := context.Background()

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal(err)
	}

	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "atomgo")

	if err := store.Put(ctx, "snapshots/0001", []byte("...")); err != nil {
		log.Fatal(err)
	}
}
