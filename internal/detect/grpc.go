package detect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rbright/glimpse/internal/capture"
	"github.com/rbright/glimpse/internal/describe"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	detectServiceName = "glimpse.detector.v1.Detector"
	detectMethod      = "/" + detectServiceName + "/Detect"
)

// Server is implemented by model servers that speak the detector RPC. The
// request carries encoded image bytes; the response is a list of
// {label|class_id, confidence} structs.
type Server interface {
	Detect(ctx context.Context, image *wrapperspb.BytesValue) (*structpb.ListValue, error)
}

// ServiceDesc describes the detector RPC for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: detectServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Detect", Handler: detectHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "glimpse/detector/v1/detector.proto",
}

// RegisterServer attaches srv to a gRPC server.
func RegisterServer(registrar grpc.ServiceRegistrar, srv Server) {
	registrar.RegisterService(&ServiceDesc, srv)
}

func detectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Detect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: detectMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Detect(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCConfig configures the remote detector client.
type GRPCConfig struct {
	Endpoint    string
	DialTimeout time.Duration
	CallTimeout time.Duration
	Vocabulary  describe.Vocabulary
}

// GRPC calls a remote model server over the detector RPC.
type GRPC struct {
	cfg GRPCConfig

	mu   sync.Mutex
	conn *grpc.ClientConn
}

// NewGRPC creates a lazily connecting client. No network I/O happens until Detect.
func NewGRPC(cfg GRPCConfig) (*GRPC, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, errors.New("detector endpoint is empty")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}

	conn, err := grpc.NewClient(
		cfg.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial detector grpc %q: %w", cfg.Endpoint, err)
	}
	return &GRPC{cfg: cfg, conn: conn}, nil
}

func (g *GRPC) Detect(ctx context.Context, frame capture.Frame) ([]Detection, error) {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return nil, unavailable("detector client closed")
	}

	if err := g.Ready(ctx); err != nil {
		return nil, err
	}

	out := new(structpb.ListValue)
	err := runWithTimeout(ctx, g.cfg.CallTimeout, func(callCtx context.Context) error {
		return conn.Invoke(callCtx, detectMethod, wrapperspb.Bytes(frame.Data), out)
	})
	if err != nil {
		return nil, wrapUnavailable("detect rpc", err)
	}
	return decodeDetections(out, g.cfg.Vocabulary)
}

// Ready waits for the connection to become usable within DialTimeout.
func (g *GRPC) Ready(ctx context.Context) error {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return unavailable("detector client closed")
	}

	readyCtx, cancel := context.WithTimeout(ctx, g.cfg.DialTimeout)
	defer cancel()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		return wrapUnavailable("wait for detector grpc readiness", err)
	}
	return nil
}

func (g *GRPC) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return nil
	}
	err := g.conn.Close()
	g.conn = nil
	return err
}

func decodeDetections(list *structpb.ListValue, vocab describe.Vocabulary) ([]Detection, error) {
	detections := make([]Detection, 0, len(list.GetValues()))
	for i, value := range list.GetValues() {
		item := value.GetStructValue()
		if item == nil {
			return nil, unavailable("detection %d is not an object", i)
		}
		fields := item.GetFields()

		label := strings.TrimSpace(fields["label"].GetStringValue())
		if label == "" {
			classField, ok := fields["class_id"]
			if !ok {
				return nil, unavailable("detection %d has neither label nor class_id", i)
			}
			resolved, ok := vocab.Label(int(classField.GetNumberValue()))
			if !ok {
				// Outside the vocabulary; Summarize would drop it anyway.
				continue
			}
			label = resolved
		}

		confidence, ok := fields["confidence"]
		if !ok {
			return nil, unavailable("detection %d is missing confidence", i)
		}
		detections = append(detections, Detection{Label: label, Confidence: confidence.GetNumberValue()})
	}
	return detections, nil
}
