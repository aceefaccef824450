package natskv_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/QueryWarden/internal/adapter/natskv"
	"github.com/Strob0t/QueryWarden/internal/port/cache/cachetest"
)

func TestCompliance(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping NATS KV test")
	}

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bucket := "QW_TEST_" + uuid.NewString()[:8]
	c, err := natskv.Open(ctx, js, bucket, time.Minute)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = js.DeleteKeyValue(context.Background(), bucket) }()

	cachetest.Run(t, c)
}
