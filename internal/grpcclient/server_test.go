package grpcclient

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/cocoa-roast-scan/internal/domain"
)

// classifierServer is the server side of the Infer RPC, implemented by the
// in-process fakes the client is exercised against.
type classifierServer interface {
	Infer(ctx context.Context, model string, tensor domain.Tensor) (domain.ScoreVector, error)
}

var classifierServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*classifierServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Infer",
		Handler:    inferHandler,
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cocoa/inference/v1/classifier.proto",
}

func registerClassifierServer(s grpc.ServiceRegistrar, srv classifierServer) {
	s.RegisterService(&classifierServiceDesc, srv)
}

func inferHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := &structpb.Struct{}
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req interface{}) (interface{}, error) {
		model, tensor, err := decodeInferRequest(req.(*structpb.Struct))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		scores, err := srv.(classifierServer).Infer(ctx, model, tensor)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		return encodeScores(scores), nil
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: InferMethod}
	return interceptor(ctx, in, info, call)
}

func decodeInferRequest(req *structpb.Struct) (string, domain.Tensor, error) {
	fields := req.GetFields()
	model := fields["model"].GetStringValue()
	shape, err := floatList(fields["shape"], "shape")
	if err != nil {
		return "", domain.Tensor{}, err
	}
	if len(shape) != 3 {
		return "", domain.Tensor{}, fmt.Errorf("shape must have 3 dimensions, got %d", len(shape))
	}
	data, err := floatList(fields["data"], "data")
	if err != nil {
		return "", domain.Tensor{}, err
	}
	t := domain.Tensor{Height: int(shape[0]), Width: int(shape[1]), Channels: int(shape[2]), Data: data}
	if len(data) != t.Height*t.Width*t.Channels {
		return "", domain.Tensor{}, fmt.Errorf("shape %v does not match %d values", t.Shape(), len(data))
	}
	return model, t, nil
}

func encodeScores(scores domain.ScoreVector) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{"scores": numberList(scores)}}
}
