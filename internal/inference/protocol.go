package inference

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service exposed by an inference engine sidecar
const ServiceName = "gazepointer.inference.v1.InferenceEngine"

const (
	methodReadNetwork  = "ReadNetwork"
	methodAddExtension = "AddExtension"
	methodLoadNetwork  = "LoadNetwork"
	methodInfer        = "Infer"
	methodPerfCounts   = "PerfCounts"
	methodUnload       = "Unload"
)

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func tensorInfosToValues(infos []TensorInfo) []interface{} {
	values := make([]interface{}, 0, len(infos))
	for _, info := range infos {
		shape := make([]interface{}, 0, len(info.Shape))
		for _, d := range info.Shape {
			shape = append(shape, d)
		}
		values = append(values, map[string]interface{}{
			"name":  info.Name,
			"shape": shape,
		})
	}
	return values
}

func networkToStruct(n *Network) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"name":    n.Name,
		"path":    n.Path,
		"inputs":  tensorInfosToValues(n.Inputs),
		"outputs": tensorInfosToValues(n.Outputs),
	})
}

func tensorInfosFromValue(v *structpb.Value) ([]TensorInfo, error) {
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("tensor list missing")
	}
	infos := make([]TensorInfo, 0, len(list.Values))
	for _, item := range list.Values {
		fields := item.GetStructValue().GetFields()
		info := TensorInfo{Name: fields["name"].GetStringValue()}
		if info.Name == "" {
			return nil, fmt.Errorf("tensor without name")
		}
		for _, d := range fields["shape"].GetListValue().GetValues() {
			info.Shape = append(info.Shape, int(d.GetNumberValue()))
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func networkFromStruct(s *structpb.Struct) (*Network, error) {
	fields := s.GetFields()
	n := &Network{
		Name: fields["name"].GetStringValue(),
		Path: fields["path"].GetStringValue(),
	}
	var err error
	if n.Inputs, err = tensorInfosFromValue(fields["inputs"]); err != nil {
		return nil, fmt.Errorf("inputs: %w", err)
	}
	if n.Outputs, err = tensorInfosFromValue(fields["outputs"]); err != nil {
		return nil, fmt.Errorf("outputs: %w", err)
	}
	return n, nil
}

func perfCountsToStruct(counts map[string]PerfCount) (*structpb.Struct, error) {
	layers := make(map[string]interface{}, len(counts))
	for layer, c := range counts {
		layers[layer] = map[string]interface{}{
			"status":       c.Status,
			"exec_type":    c.ExecType,
			"real_time_us": c.RealTime.Microseconds(),
			"cpu_time_us":  c.CPUTime.Microseconds(),
		}
	}
	return structpb.NewStruct(map[string]interface{}{"counts": layers})
}

func perfCountsFromStruct(s *structpb.Struct) map[string]PerfCount {
	layers := s.GetFields()["counts"].GetStructValue().GetFields()
	counts := make(map[string]PerfCount, len(layers))
	for layer, v := range layers {
		f := v.GetStructValue().GetFields()
		counts[layer] = PerfCount{
			Status:   f["status"].GetStringValue(),
			ExecType: f["exec_type"].GetStringValue(),
			RealTime: time.Duration(f["real_time_us"].GetNumberValue()) * time.Microsecond,
			CPUTime:  time.Duration(f["cpu_time_us"].GetNumberValue()) * time.Microsecond,
		}
	}
	return counts
}

// toStatus maps engine errors onto gRPC status codes
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnknownModel):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrDeviceUnavailable):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrUnknownHandle):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus maps gRPC status codes back onto engine errors
func fromStatus(err error, notFound error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", notFound, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, st.Message())
	default:
		return fmt.Errorf("engine %s: %s", st.Code(), st.Message())
	}
}
