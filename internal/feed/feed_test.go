package feed

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/eye3d/internal/detector"
	"github.com/banshee-data/eye3d/internal/eyemodel"
)

func startPublisher(t *testing.T, cfg Config) (*Publisher, FeedClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	p := NewPublisher(cfg)
	require.NoError(t, p.Serve(lis))
	t.Cleanup(p.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return p, NewFeedClient(conn)
}

func sampleResult(ts float64) detector.Result {
	return detector.Result{
		Timestamp:    ts,
		Sphere:       detector.SphereResult{Center: [3]float64{1.5, -1, 40}, Radius: 10.39},
		Circle3D:     detector.CircleResult{Center: [3]float64{1.5, -1, 29.6}, Normal: [3]float64{0, 0, -1}, Radius: 2},
		Diameter3D:   4,
		Confidence:   0.95,
		Confidence2D: 0.95,
		Theta:        1.57,
		Phi:          -1.57,
	}
}

func sampleState() detector.State {
	est := eyemodel.Estimate{SphereCenter: eyemodel.InitialSphereCenter}
	return detector.State{ShortTerm: est, LongTerm: est, UltraLongTerm: est, Counts: [3]int{10, 50, 50}, Bins: []int{1, 2}}
}

func waitForClients(t *testing.T, p *Publisher, n int32) {
	t.Helper()
	require.Eventually(t, func() bool { return p.Stats().ClientCount == n }, 2*time.Second, time.Millisecond)
}

func TestFeed_StreamsPublishedResults(t *testing.T) {
	t.Parallel()
	p, client := startPublisher(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.StreamResults(ctx, StreamOptions{IncludeState: true}.Request())
	require.NoError(t, err)
	waitForClients(t, p, 1)

	for i := range 3 {
		p.Publish(sampleResult(float64(i)/30), sampleState())
	}
	for i := range 3 {
		msg, err := stream.Recv()
		require.NoError(t, err)
		f := msg.GetFields()
		assert.Equal(t, float64(i), f["index"].GetNumberValue())

		res := f["result"].GetStructValue().GetFields()
		assert.InDelta(t, float64(i)/30, res["timestamp"].GetNumberValue(), 1e-12)
		assert.Equal(t, 4.0, res["diameter_3d"].GetNumberValue())
		assert.Equal(t, 0.95, res["confidence"].GetNumberValue())
		center := res["sphere"].GetStructValue().GetFields()["center"].GetListValue().GetValues()
		require.Len(t, center, 3)
		assert.Equal(t, 40.0, center[2].GetNumberValue())
		assert.NotContains(t, res, "debug_info")

		st := f["state"].GetStructValue().GetFields()
		counts := st["counts"].GetListValue().GetValues()
		require.Len(t, counts, 3)
		assert.Equal(t, 50.0, counts[1].GetNumberValue())
	}
	assert.Equal(t, uint64(3), p.Stats().FrameCount)
}

func TestFeed_StateOnlyOnRequest(t *testing.T) {
	t.Parallel()
	p, client := startPublisher(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.StreamResults(ctx, StreamOptions{}.Request())
	require.NoError(t, err)
	waitForClients(t, p, 1)

	res := sampleResult(1)
	res.Debug = &detector.Debug{BinData: [][]float64{{0.5, 1}}}
	p.Publish(res, sampleState())
	msg, err := stream.Recv()
	require.NoError(t, err)
	assert.NotContains(t, msg.GetFields(), "state")
	assert.NotContains(t, msg.GetFields()["result"].GetStructValue().GetFields(), "debug_info")
}

func TestFeed_GetState(t *testing.T) {
	t.Parallel()
	p, client := startPublisher(t, DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.GetState(ctx, StreamOptions{}.Request())
	assert.Equal(t, codes.Unavailable, status.Code(err))

	res := sampleResult(2)
	res.Debug = &detector.Debug{BinData: [][]float64{{0.5, 1}}}
	p.Publish(res, sampleState())
	msg, err := client.GetState(ctx, StreamOptions{IncludeDebug: true}.Request())
	require.NoError(t, err)

	f := msg.GetFields()
	assert.Contains(t, f, "state", "state is always included")
	bins := f["state"].GetStructValue().GetFields()["bins"].GetListValue().GetValues()
	require.Len(t, bins, 2)
	assert.Equal(t, 2.0, bins[1].GetNumberValue())

	dbg := f["result"].GetStructValue().GetFields()["debug_info"].GetStructValue().GetFields()
	rows := dbg["bin_data"].GetListValue().GetValues()
	require.Len(t, rows, 1)
	assert.Equal(t, 1.0, rows[0].GetListValue().GetValues()[1].GetNumberValue())
}

func TestFeed_MaxClients(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.MaxClients = 1
	p, client := startPublisher(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.StreamResults(ctx, StreamOptions{}.Request())
	require.NoError(t, err)
	waitForClients(t, p, 1)

	second, err := client.StreamResults(ctx, StreamOptions{}.Request())
	require.NoError(t, err)
	_, err = second.Recv()
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestFeed_StopEndsStreams(t *testing.T) {
	t.Parallel()
	p, client := startPublisher(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.StreamResults(ctx, StreamOptions{}.Request())
	require.NoError(t, err)
	waitForClients(t, p, 1)

	p.Stop()
	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, p.Stats().Running)
	assert.Zero(t, p.Stats().ClientCount)

	// Publishing after Stop is a no-op.
	p.Publish(sampleResult(0), sampleState())
	assert.Zero(t, p.Stats().FrameCount)
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()
	p := NewPublisher(DefaultConfig())
	// Running without a broadcast loop, so nothing drains the queue.
	p.running.Store(true)
	for i := range frameQueueLength + 5 {
		p.Publish(sampleResult(float64(i)), sampleState())
	}
	st := p.Stats()
	assert.Equal(t, uint64(frameQueueLength+5), st.FrameCount)
	assert.Equal(t, uint64(5), st.Dropped)

	f, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(frameQueueLength+4), f.Index)
}
