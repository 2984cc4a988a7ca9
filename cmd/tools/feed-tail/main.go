// Command feed-tail connects to a running eye3d gRPC feed and prints every
// streamed frame as one line of JSON.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/banshee-data/eye3d/internal/feed"
)

func main() {
	addr := flag.String("addr", feed.DefaultConfig().ListenAddr, "feed address")
	state := flag.Bool("state", false, "include model state in each frame")
	debug := flag.Bool("debug", false, "include debug blocks when the detector attaches them")
	once := flag.Bool("once", false, "print the latest frame and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *addr, err)
	}
	defer conn.Close()
	client := feed.NewFeedClient(conn)
	req := feed.StreamOptions{IncludeState: *state, IncludeDebug: *debug}.Request()

	if *once {
		msg, err := client.GetState(ctx, req)
		if err != nil {
			log.Fatalf("GetState: %v", err)
		}
		fmt.Println(protojson.Format(msg))
		return
	}

	stream, err := client.StreamResults(ctx, req)
	if err != nil {
		log.Fatalf("StreamResults: %v", err)
	}
	marshal := protojson.MarshalOptions{}
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Fatalf("stream ended: %v", err)
		}
		line, err := marshal.Marshal(msg)
		if err != nil {
			log.Printf("skipping frame: %v", err)
			continue
		}
		fmt.Println(string(line))
	}
}
