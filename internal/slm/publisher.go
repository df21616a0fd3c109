package slm

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/holofab/internal/cgh"
	"github.com/banshee-data/holofab/internal/monitoring"
)

// Config contains configuration for the hologram publisher.
type Config struct {
	ListenAddr   string
	ClientBuffer int // holograms queued per display before the oldest is dropped
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50051",
		ClientBuffer: 2,
	}
}

// Publisher is a cgh.Sink that serves holograms to connected displays.
type Publisher struct {
	config Config

	server   *grpc.Server
	listener net.Listener

	latest atomic.Pointer[cgh.Hologram]

	clientsMu sync.RWMutex
	clients   map[string]*clientStream
	nextID    atomic.Uint64

	frameCount    atomic.Uint64
	droppedFrames atomic.Uint64
	clientCount   atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type clientStream struct {
	id      string
	frameCh chan *cgh.Hologram
}

var _ cgh.Sink = (*Publisher)(nil)
var _ DisplayServer = (*Publisher)(nil)

// NewPublisher creates a publisher. It accepts holograms immediately;
// Start or Serve exposes them over gRPC.
func NewPublisher(cfg Config) *Publisher {
	if cfg.ClientBuffer < 1 {
		cfg.ClientBuffer = 1
	}
	return &Publisher{
		config:  cfg,
		clients: make(map[string]*clientStream),
		stopCh:  make(chan struct{}),
	}
}

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.config.ListenAddr, err)
	}
	return p.Serve(lis)
}

// Serve serves the Display service on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("slm publisher already running")
	}
	p.listener = lis

	// A 1024x1024 phase frame is 1 MiB; leave room for larger panels.
	const maxMsgSize = 16 * 1024 * 1024
	p.server = grpc.NewServer(grpc.MaxSendMsgSize(maxMsgSize))
	RegisterDisplayServer(p.server, p)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		monitoring.Logf("[slm] gRPC display stream listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			monitoring.Logf("[slm] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop ends every stream and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	if p.server != nil {
		p.server.GracefulStop()
	}
	p.wg.Wait()
	monitoring.Logf("[slm] gRPC server stopped")
}

// HologramReady records h as the latest hologram and queues it for every
// display. A display that has fallen behind loses its oldest frame.
func (p *Publisher) HologramReady(h *cgh.Hologram) {
	p.latest.Store(h)
	p.frameCount.Add(1)

	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	for _, c := range p.clients {
		p.offer(c, h)
	}
}

func (p *Publisher) offer(c *clientStream, h *cgh.Hologram) {
	for {
		select {
		case c.frameCh <- h:
			return
		default:
		}
		select {
		case <-c.frameCh:
			p.droppedFrames.Add(1)
		default:
		}
	}
}

// Latest returns the most recent hologram, or nil.
func (p *Publisher) Latest() *cgh.Hologram { return p.latest.Load() }

// StreamHolograms implements DisplayServer.
func (p *Publisher) StreamHolograms(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ctx := stream.Context()
	c := p.addClient()
	defer p.removeClient(c.id)

	if err := stream.SendHeader(metadata.Pairs(FormatKey, FrameFormat)); err != nil {
		return err
	}

	var last uint64
	send := func(h *cgh.Hologram) error {
		if h == nil || (last != 0 && h.Sequence <= last) {
			return nil
		}
		last = h.Sequence
		return stream.SendMsg(wrapperspb.Bytes(EncodeFrame(h)))
	}

	if err := send(p.latest.Load()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case h := <-c.frameCh:
			if err := send(h); err != nil {
				monitoring.Logf("[slm] send to %s failed: %v", c.id, err)
				return err
			}
		}
	}
}

func (p *Publisher) addClient() *clientStream {
	c := &clientStream{
		id:      fmt.Sprintf("display-%d", p.nextID.Add(1)),
		frameCh: make(chan *cgh.Hologram, p.config.ClientBuffer),
	}
	p.clientsMu.Lock()
	p.clients[c.id] = c
	p.clientsMu.Unlock()

	n := p.clientCount.Add(1)
	monitoring.Logf("[slm] display connected: %s (total: %d)", c.id, n)
	return c
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	_, ok := p.clients[id]
	delete(p.clients, id)
	p.clientsMu.Unlock()
	if ok {
		n := p.clientCount.Add(-1)
		monitoring.Logf("[slm] display disconnected: %s (remaining: %d)", id, n)
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	FrameCount    uint64 `json:"frame_count"`
	DroppedFrames uint64 `json:"dropped_frames"`
	ClientCount   int32  `json:"client_count"`
	Running       bool   `json:"running"`
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		FrameCount:    p.frameCount.Load(),
		DroppedFrames: p.droppedFrames.Load(),
		ClientCount:   p.clientCount.Load(),
		Running:       p.running.Load(),
	}
}
