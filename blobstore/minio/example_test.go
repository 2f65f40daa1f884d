package minio_test

import (
	"context"
	"log"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/atomgo/blobstore/minio"
)

func ExampleNewStore() {
	client, err := miniogo.New("localhost:9000", &miniogo.Options{
		Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
	})
	if err != nil {
		log.Fatal(err)
	}

	store := minio.NewStore(client, "my-bucket", "atomgo")

	if err := store.Put(context.Background(), "snapshots/0001", []byte("...")); err != nil {
		log.Fatal(err)
	}
}
