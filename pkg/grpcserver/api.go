package grpcserver

import (
	"context"

	"google.golang.org/grpc"

	"github.com/openproblems/dimred/pkg/method"
	"github.com/openproblems/dimred/pkg/results"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dimred.v1.Methods"

const (
	listMethodsFullName = "/" + ServiceName + "/ListMethods"
	runMethodFullName   = "/" + ServiceName + "/RunMethod"
	getResultFullName   = "/" + ServiceName + "/GetResult"
)

type ListMethodsRequest struct{}

type ListMethodsResponse struct {
	Methods []method.Info `json:"methods"`
}

// RunMethodRequest carries a dataset inline: one row of counts per observation.
type RunMethodRequest struct {
	Method   string      `json:"method"`
	Dataset  string      `json:"dataset,omitempty"`
	Rows     [][]float64 `json:"rows"`
	ObsNames []string    `json:"obs_names,omitempty"`
	VarNames []string    `json:"var_names,omitempty"`
	Test     bool        `json:"test,omitempty"`
	NPCA     int         `json:"n_pca,omitempty"`
}

type RunMethodResponse struct {
	Result *results.Record `json:"result"`
}

type GetResultRequest struct {
	ID string `json:"id"`
}

type GetResultResponse struct {
	Result *results.Record `json:"result"`
}

// MethodsServer is the server API for the Methods service.
type MethodsServer interface {
	ListMethods(context.Context, *ListMethodsRequest) (*ListMethodsResponse, error)
	RunMethod(context.Context, *RunMethodRequest) (*RunMethodResponse, error)
	GetResult(context.Context, *GetResultRequest) (*GetResultResponse, error)
}

// RegisterMethodsServer registers srv on s.
func RegisterMethodsServer(s grpc.ServiceRegistrar, srv MethodsServer) {
	s.RegisterService(&methodsServiceDesc, srv)
}

var methodsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MethodsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListMethods", Handler: listMethodsHandler},
		{MethodName: "RunMethod", Handler: runMethodHandler},
		{MethodName: "GetResult", Handler: getResultHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func listMethodsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListMethodsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MethodsServer).ListMethods(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listMethodsFullName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MethodsServer).ListMethods(ctx, req.(*ListMethodsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func runMethodHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RunMethodRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MethodsServer).RunMethod(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: runMethodFullName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MethodsServer).RunMethod(ctx, req.(*RunMethodRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getResultHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetResultRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MethodsServer).GetResult(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getResultFullName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MethodsServer).GetResult(ctx, req.(*GetResultRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls the Methods service over cc using the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) ListMethods(ctx context.Context, in *ListMethodsRequest, opts ...grpc.CallOption) (*ListMethodsResponse, error) {
	out := new(ListMethodsResponse)
	if err := c.cc.Invoke(ctx, listMethodsFullName, in, out, c.callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RunMethod(ctx context.Context, in *RunMethodRequest, opts ...grpc.CallOption) (*RunMethodResponse, error) {
	out := new(RunMethodResponse)
	if err := c.cc.Invoke(ctx, runMethodFullName, in, out, c.callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetResult(ctx context.Context, in *GetResultRequest, opts ...grpc.CallOption) (*GetResultResponse, error) {
	out := new(GetResultResponse)
	if err := c.cc.Invoke(ctx, getResultFullName, in, out, c.callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
