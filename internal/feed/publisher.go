// Package feed streams per-frame detector results and model state to gRPC
// clients.
//
// The service is declared by hand in service.go and carries
// google.protobuf.Struct messages laid out like the JSON form of
// detector.Result.
package feed

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/banshee-data/eye3d/internal/detector"
	"github.com/banshee-data/eye3d/internal/monitoring"
)

// ErrTooManyClients is returned when MaxClients streams are already open.
var ErrTooManyClients = errors.New("feed: too many clients")

// Config holds configuration for the feed gRPC server.
type Config struct {
	// ListenAddr is the address to listen on, e.g. "localhost:50061".
	ListenAddr string
	// MaxClients caps concurrent streams; 0 means unlimited.
	MaxClients int
	// ClientBuffer is the number of frames buffered per client before
	// frames are dropped for that client.
	ClientBuffer int
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		MaxClients:   5,
		ClientBuffer: 10,
	}
}

// frameQueueLength bounds frames waiting for the broadcast loop.
const frameQueueLength = 100

// Publisher runs the gRPC server and fans published frames out to every
// connected stream. Publish never blocks.
type Publisher struct {
	cfg      Config
	server   *grpc.Server
	listener net.Listener

	frameCh   chan *Frame
	clients   map[string]*client
	clientsMu sync.RWMutex
	latest    atomic.Pointer[Frame]

	frameCount  atomic.Uint64
	dropped     atomic.Uint64
	clientCount atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type client struct {
	id      string
	opts    StreamOptions
	frameCh chan *Frame
}

func NewPublisher(cfg Config) *Publisher {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	return &Publisher{
		cfg:     cfg,
		frameCh: make(chan *Frame, frameQueueLength),
		clients: make(map[string]*client),
		stopCh:  make(chan struct{}),
	}
}

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve serves the Feed service on lis in the background. The publisher
// owns lis from here on.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("feed: publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer()
	RegisterFeedServer(p.server, NewServer(p))

	p.wg.Add(2)
	go p.broadcastLoop()
	go func() {
		defer p.wg.Done()
		monitoring.Logf("feed: gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			monitoring.Logf("feed: gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Serve.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop ends every stream and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.server.GracefulStop()
	p.wg.Wait()
	monitoring.Logf("feed: gRPC server stopped (%d frames, %d dropped)", p.frameCount.Load(), p.dropped.Load())
}

// Publish queues res and st for every connected client. The latest frame is
// kept for GetState even when nobody is streaming.
func (p *Publisher) Publish(res detector.Result, st detector.State) {
	if !p.running.Load() {
		return
	}
	f := &Frame{Index: p.frameCount.Add(1) - 1, Result: res, State: st}
	p.latest.Store(f)

	select {
	case p.frameCh <- f:
	default:
		n := p.dropped.Add(1)
		monitoring.Debugf("feed: frame queue full, dropped frame %d (%d dropped)", f.Index, n)
	}
}

// Latest returns the most recently published frame.
func (p *Publisher) Latest() (*Frame, bool) {
	f := p.latest.Load()
	return f, f != nil
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case f := <-p.frameCh:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				select {
				case c.frameCh <- f:
				default:
					// Slow client; it misses this frame.
					p.dropped.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (p *Publisher) addClient(opts StreamOptions) (*client, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.cfg.MaxClients > 0 && len(p.clients) >= p.cfg.MaxClients {
		return nil, ErrTooManyClients
	}
	c := &client{
		id:      uuid.NewString(),
		opts:    opts,
		frameCh: make(chan *Frame, p.cfg.ClientBuffer),
	}
	p.clients[c.id] = c
	n := p.clientCount.Add(1)
	monitoring.Logf("feed: client %s connected (total: %d)", c.id, n)
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; !ok {
		return
	}
	delete(p.clients, id)
	n := p.clientCount.Add(-1)
	monitoring.Logf("feed: client %s disconnected (remaining: %d)", id, n)
}

// Stats is a snapshot of publisher counters.
type Stats struct {
	FrameCount  uint64
	Dropped     uint64
	ClientCount int32
	Running     bool
}

func (p *Publisher) Stats() Stats {
	return Stats{
		FrameCount:  p.frameCount.Load(),
		Dropped:     p.dropped.Load(),
		ClientCount: p.clientCount.Load(),
		Running:     p.running.Load(),
	}
}
