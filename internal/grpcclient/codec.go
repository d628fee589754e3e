// Package grpcclient reaches remote classifiers over gRPC. Requests and
// responses travel as google.protobuf.Struct so no generated stubs are needed.
package grpcclient

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/cocoa-roast-scan/internal/domain"
)

const (
	// ServiceName is the fully qualified inference service.
	ServiceName = "cocoa.inference.v1.Classifier"
	// InferMethod is the full RPC path of Infer.
	InferMethod = "/" + ServiceName + "/Infer"
)

func numberList(values []float32) *structpb.Value {
	list := &structpb.ListValue{Values: make([]*structpb.Value, len(values))}
	for i, v := range values {
		list.Values[i] = structpb.NewNumberValue(float64(v))
	}
	return structpb.NewListValue(list)
}

func floatList(v *structpb.Value, field string) ([]float32, error) {
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("field %q is not a list", field)
	}
	out := make([]float32, len(list.GetValues()))
	for i, item := range list.GetValues() {
		n, ok := item.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("field %q[%d] is not a number", field, i)
		}
		out[i] = float32(n.NumberValue)
	}
	return out, nil
}

func encodeInferRequest(model string, t domain.Tensor) (*structpb.Struct, error) {
	if len(t.Data) == 0 || len(t.Data) != t.Height*t.Width*t.Channels {
		return nil, fmt.Errorf("%w: tensor shape %v does not match %d values",
			domain.ErrPreprocessFailure, t.Shape(), len(t.Data))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"model": structpb.NewStringValue(model),
		"shape": numberList([]float32{float32(t.Height), float32(t.Width), float32(t.Channels)}),
		"data":  numberList(t.Data),
	}}, nil
}

func decodeScores(resp *structpb.Struct) (domain.ScoreVector, error) {
	scores, err := floatList(resp.GetFields()["scores"], "scores")
	if err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	return scores, nil
}
