package command

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultServicePrefix is the gRPC service that exposes the mapping core's
// calls as unary methods.
const DefaultServicePrefix = "fusion.MappingService"

// GRPCCaller invokes services as unary gRPC methods taking and returning a
// google.protobuf.Struct. The method path is /<prefix>/<service>.
type GRPCCaller struct {
	conn   grpc.ClientConnInterface
	prefix string
}

// NewGRPCCaller returns a caller over conn. An empty prefix selects
// DefaultServicePrefix.
func NewGRPCCaller(conn grpc.ClientConnInterface, prefix string) *GRPCCaller {
	if prefix == "" {
		prefix = DefaultServicePrefix
	}
	return &GRPCCaller{conn: conn, prefix: strings.Trim(prefix, "/")}
}

// Method returns the full gRPC method name for service.
func (c *GRPCCaller) Method(service string) string {
	return "/" + c.prefix + "/" + strings.TrimLeft(service, "/")
}

// Call performs a single unary call.
func (c *GRPCCaller) Call(ctx context.Context, service string, req *structpb.Struct) (*structpb.Struct, error) {
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, c.Method(service), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
