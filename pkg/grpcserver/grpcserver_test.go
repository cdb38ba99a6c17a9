package grpcserver

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"gonum.org/v1/gonum/mat"

	"github.com/openproblems/dimred/internal/service"
	"github.com/openproblems/dimred/pkg/dataset"
	"github.com/openproblems/dimred/pkg/method"
	"github.com/openproblems/dimred/pkg/results"
)

func firstTwo(ctx context.Context, ds *dataset.Dataset, opts method.Options) (*dataset.Dataset, error) {
	emb := mat.DenseCopyOf(ds.X.Slice(0, ds.NObs(), 0, 2))
	out, err := ds.WithObsm(dataset.ObsmEmbedding, emb)
	if err != nil {
		return nil, err
	}
	return out.WithUns(dataset.UnsCodeVersion, "test"), nil
}

func panicking(ctx context.Context, ds *dataset.Dataset, opts method.Options) (*dataset.Dataset, error) {
	panic("boom")
}

func setupTestServer(t *testing.T) (*Client, *Metrics) {
	t.Helper()

	reg := method.NewRegistry()
	if err := reg.Register(method.Info{Name: "first_two", MethodName: "First two features"}, firstTwo); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(method.Info{Name: "panicking"}, panicking); err != nil {
		t.Fatal(err)
	}
	svc, err := service.NewRunService(service.DefaultConfig(), reg, results.NewMemoryStore())
	if err != nil {
		t.Fatalf("failed to create run service: %v", err)
	}

	metrics, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	lis := bufconn.Listen(1 << 20)
	gs := NewGRPCServer(New(svc, metrics))
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return NewClient(conn), metrics
}

func TestListMethods(t *testing.T) {
	client, _ := setupTestServer(t)

	resp, err := client.ListMethods(context.Background(), &ListMethodsRequest{})
	if err != nil {
		t.Fatalf("ListMethods failed: %v", err)
	}
	if len(resp.Methods) != 2 {
		t.Fatalf("expected 2 methods, got %d", len(resp.Methods))
	}
	if resp.Methods[0].Name != "first_two" || resp.Methods[0].MethodName != "First two features" {
		t.Errorf("unexpected method %+v", resp.Methods[0])
	}
}

func TestRunAndGetResult(t *testing.T) {
	client, metrics := setupTestServer(t)
	ctx := context.Background()

	runResp, err := client.RunMethod(ctx, &RunMethodRequest{
		Method:   "first_two",
		Dataset:  "toy",
		Rows:     [][]float64{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}},
		ObsNames: []string{"a", "b", "c"},
	})
	if err != nil {
		t.Fatalf("RunMethod failed: %v", err)
	}
	rec := runResp.Result
	if rec == nil || rec.ID == "" {
		t.Fatal("expected stored result with ID")
	}
	if rec.Rows != 3 || rec.Cols != 2 {
		t.Errorf("expected 3x2 embedding, got %dx%d", rec.Rows, rec.Cols)
	}

	getResp, err := client.GetResult(ctx, &GetResultRequest{ID: rec.ID})
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if getResp.Result.ID != rec.ID || getResp.Result.Embedding[4] != 7 {
		t.Errorf("unexpected result %+v", getResp.Result)
	}

	if got := testutil.ToFloat64(metrics.requestCount.WithLabelValues(runMethodFullName, "OK")); got != 1 {
		t.Errorf("expected 1 RunMethod request, got %v", got)
	}
	if n := testutil.CollectAndCount(metrics.runDuration); n == 0 {
		t.Error("expected run duration to be recorded")
	}
}

func TestErrorCodes(t *testing.T) {
	client, metrics := setupTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"missing method", func() error {
			_, err := client.RunMethod(ctx, &RunMethodRequest{Rows: [][]float64{{1, 2}}})
			return err
		}, codes.InvalidArgument},
		{"missing rows", func() error {
			_, err := client.RunMethod(ctx, &RunMethodRequest{Method: "first_two"})
			return err
		}, codes.InvalidArgument},
		{"negative n_pca", func() error {
			_, err := client.RunMethod(ctx, &RunMethodRequest{Method: "first_two", Rows: [][]float64{{1, 2}, {3, 4}}, NPCA: -1})
			return err
		}, codes.InvalidArgument},
		{"negative counts", func() error {
			_, err := client.RunMethod(ctx, &RunMethodRequest{Method: "first_two", Rows: [][]float64{{1, 2}, {-3, 4}}})
			return err
		}, codes.InvalidArgument},
		{"unknown method", func() error {
			_, err := client.RunMethod(ctx, &RunMethodRequest{Method: "nope", Rows: [][]float64{{1, 2}}})
			return err
		}, codes.NotFound},
		{"unknown result", func() error {
			_, err := client.GetResult(ctx, &GetResultRequest{ID: "missing"})
			return err
		}, codes.NotFound},
		{"empty id", func() error {
			_, err := client.GetResult(ctx, &GetResultRequest{})
			return err
		}, codes.InvalidArgument},
		{"panic", func() error {
			_, err := client.RunMethod(ctx, &RunMethodRequest{Method: "panicking", Rows: [][]float64{{1, 2}, {3, 4}}})
			return err
		}, codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if code := status.Code(err); code != tt.want {
				t.Errorf("expected %s, got %s (%v)", tt.want, code, err)
			}
		})
	}

	if got := testutil.ToFloat64(metrics.requestCount.WithLabelValues(getResultFullName, "NotFound")); got != 1 {
		t.Errorf("expected 1 NotFound GetResult, got %v", got)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{nil, codes.OK},
		{service.ErrInvalidInput, codes.InvalidArgument},
		{service.ErrNotFound, codes.NotFound},
		{context.Canceled, codes.Canceled},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("numerical failure"), codes.Internal},
	}
	for _, tt := range tests {
		if code := status.Code(mapError(tt.err)); code != tt.want {
			t.Errorf("mapError(%v) = %s, want %s", tt.err, code, tt.want)
		}
	}
}

func TestNewMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewMetrics(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := NewMetrics(reg); err == nil {
		t.Error("expected duplicate registration error")
	}
}
