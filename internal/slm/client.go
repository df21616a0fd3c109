package slm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/holofab/internal/cgh"
)

// Client receives holograms from a Publisher.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial connects to a publisher without transport security. The display
// link is expected to stay on the instrument host or a private network.
func Dial(target string, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return NewClient(conn), conn, nil
}

// Stream calls fn with every hologram until ctx is done, the server ends
// the stream, or fn returns an error. A clean server shutdown returns nil.
func (c *Client) Stream(ctx context.Context, fn func(*cgh.Hologram) error) error {
	stream, err := c.conn.NewStream(ctx, &DisplayServiceDesc.Streams[0], streamHologramsMethod)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	md, err := stream.Header()
	if err != nil {
		return err
	}
	if got := md.Get(FormatKey); len(got) != 1 || got[0] != FrameFormat {
		return fmt.Errorf("slm: unsupported frame format %v", got)
	}

	for {
		m := new(wrapperspb.BytesValue)
		if err := stream.RecvMsg(m); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		h, err := DecodeFrame(m.GetValue())
		if err != nil {
			return err
		}
		if err := fn(h); err != nil {
			return err
		}
	}
}
