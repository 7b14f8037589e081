package detect

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/glimpse/internal/capture"
	"github.com/rbright/glimpse/internal/describe"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type testDetectorServer struct {
	calls    atomic.Int32
	lastSize atomic.Int32
	items    []any
	err      error
	delay    time.Duration
}

func (s *testDetectorServer) Detect(ctx context.Context, image *wrapperspb.BytesValue) (*structpb.ListValue, error) {
	s.calls.Add(1)
	s.lastSize.Store(int32(len(image.GetValue())))
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return structpb.NewList(s.items)
}

func startTestDetectorServer(t *testing.T, srv Server) (string, func()) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	grpcServer := grpc.NewServer()
	RegisterServer(grpcServer, srv)

	go func() {
		_ = grpcServer.Serve(lis)
	}()

	shutdown := func() {
		grpcServer.Stop()
		_ = lis.Close()
	}

	return lis.Addr().String(), shutdown
}

func testFrame() capture.Frame {
	return capture.NewFrame([]byte("jpeg-bytes"), "test", time.Unix(0, 0))
}

func TestGRPCDetectEndToEnd(t *testing.T) {
	server := &testDetectorServer{items: []any{
		map[string]any{"label": "person", "confidence": 0.9},
		map[string]any{"class_id": 56, "confidence": 0.7},
		map[string]any{"class_id": 900, "confidence": 0.7},
	}}
	endpoint, shutdown := startTestDetectorServer(t, server)
	defer shutdown()

	client, err := NewGRPC(GRPCConfig{Endpoint: endpoint, Vocabulary: describe.DefaultVocabulary()})
	require.NoError(t, err)
	defer func() { require.NoError(t, client.Close()) }()

	got, err := client.Detect(context.Background(), testFrame())
	require.NoError(t, err)
	require.Equal(t, []Detection{
		{Label: "person", Confidence: 0.9},
		{Label: "chair", Confidence: 0.7},
	}, got)
	require.Equal(t, int32(1), server.calls.Load())
	require.Equal(t, int32(len("jpeg-bytes")), server.lastSize.Load())
}

func TestGRPCDetectServerErrorIsUnavailable(t *testing.T) {
	server := &testDetectorServer{err: status.Error(codes.Internal, "model crashed")}
	endpoint, shutdown := startTestDetectorServer(t, server)
	defer shutdown()

	client, err := NewGRPC(GRPCConfig{Endpoint: endpoint})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Detect(context.Background(), testFrame())
	require.ErrorIs(t, err, ErrDetectorUnavailable)
	require.Contains(t, err.Error(), "model crashed")
	require.Equal(t, int32(1), server.calls.Load())
}

func TestGRPCDetectCallTimeout(t *testing.T) {
	server := &testDetectorServer{delay: time.Second}
	endpoint, shutdown := startTestDetectorServer(t, server)
	defer shutdown()

	client, err := NewGRPC(GRPCConfig{Endpoint: endpoint, CallTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Detect(context.Background(), testFrame())
	require.ErrorIs(t, err, ErrDetectorUnavailable)
}

func TestGRPCReadinessTimeout(t *testing.T) {
	client, err := NewGRPC(GRPCConfig{Endpoint: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Detect(context.Background(), testFrame())
	require.ErrorIs(t, err, ErrDetectorUnavailable)
	require.Contains(t, err.Error(), "readiness")
}

func TestNewGRPCEmptyEndpoint(t *testing.T) {
	_, err := NewGRPC(GRPCConfig{Endpoint: "   "})
	require.Error(t, err)
	require.Contains(t, err.Error(), "endpoint is empty")
}

func TestDecodeDetectionsRejectsMalformedItems(t *testing.T) {
	list, err := structpb.NewList([]any{"not-an-object"})
	require.NoError(t, err)
	_, err = decodeDetections(list, describe.DefaultVocabulary())
	require.ErrorIs(t, err, ErrDetectorUnavailable)

	list, err = structpb.NewList([]any{map[string]any{"label": "cat"}})
	require.NoError(t, err)
	_, err = decodeDetections(list, describe.DefaultVocabulary())
	require.ErrorIs(t, err, ErrDetectorUnavailable)
	require.Contains(t, err.Error(), "missing confidence")
}

func TestRunWithTimeoutTimesOut(t *testing.T) {
	err := runWithTimeout(context.Background(), 20*time.Millisecond, func(context.Context) error {
		time.Sleep(120 * time.Millisecond)
		return nil
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "timed out")
}

func TestRunWithTimeoutReturnsCallError(t *testing.T) {
	want := errors.New("boom")
	err := runWithTimeout(context.Background(), time.Second, func(context.Context) error {
		return want
	})
	require.ErrorIs(t, err, want)
}

func geminiTestServer(t *testing.T, text string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.Contains(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": text}},
				},
			}},
		})
	}))
}

func TestGeminiDetect(t *testing.T) {
	var calls atomic.Int32
	server := geminiTestServer(t, `[{"label":"person","confidence":0.92},{"label":"laptop","confidence":0.61}]`, &calls)
	defer server.Close()

	detector, err := NewGemini(context.Background(), GeminiConfig{APIKey: "test", BaseURL: server.URL})
	require.NoError(t, err)

	got, err := detector.Detect(context.Background(), testFrame())
	require.NoError(t, err)
	require.Equal(t, []Detection{{Label: "person", Confidence: 0.92}, {Label: "laptop", Confidence: 0.61}}, got)
	require.Equal(t, int32(1), calls.Load())
}

func TestGeminiDetectRepairsTruncatedJSON(t *testing.T) {
	var calls atomic.Int32
	server := geminiTestServer(t, `[{"label":"dog","confidence":0.8}`, &calls)
	defer server.Close()

	detector, err := NewGemini(context.Background(), GeminiConfig{APIKey: "test", BaseURL: server.URL})
	require.NoError(t, err)

	got, err := detector.Detect(context.Background(), testFrame())
	require.NoError(t, err)
	require.Equal(t, []Detection{{Label: "dog", Confidence: 0.8}}, got)
}

func TestGeminiDetectHTTPFailureIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":500,"message":"down","status":"INTERNAL"}}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	detector, err := NewGemini(context.Background(), GeminiConfig{APIKey: "test", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = detector.Detect(context.Background(), testFrame())
	require.ErrorIs(t, err, ErrDetectorUnavailable)
}

func TestNewGeminiRequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), GeminiConfig{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "api key is empty")
}

func TestSimulatedIsDeterministic(t *testing.T) {
	sim := &Simulated{Seed: 42, Vocabulary: describe.DefaultVocabulary()}
	frame := testFrame()

	first, err := sim.Detect(context.Background(), frame)
	require.NoError(t, err)
	second, err := sim.Detect(context.Background(), frame)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.LessOrEqual(t, len(first), 4)

	for _, det := range first {
		require.True(t, sim.Vocabulary.Contains(det.Label))
		require.GreaterOrEqual(t, det.Confidence, 0.3)
		require.Less(t, det.Confidence, 1.0)
	}
}

func TestSimulatedWithoutVocabulary(t *testing.T) {
	_, err := (&Simulated{}).Detect(context.Background(), testFrame())
	require.ErrorIs(t, err, ErrDetectorUnavailable)
}
