package inference

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

// engineServer is the handler type of the engine service description
type engineServer interface {
	readNetwork(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	addExtension(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	loadNetwork(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	infer(ctx context.Context, req *inferRequest) (*inferResponse, error)
	perfCounts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	unload(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// EngineService exposes a local Engine over gRPC
type EngineService struct {
	engine   Engine
	networks map[string]*Network
	handles  map[string]ExecutableNetwork
	mu       sync.Mutex
}

// RegisterEngineServer registers the engine service and a health service
// reporting every device in devices as SERVING
func RegisterEngineServer(s *grpc.Server, engine Engine, devices []string) *EngineService {
	svc := &EngineService{
		engine:   engine,
		networks: make(map[string]*Network),
		handles:  make(map[string]ExecutableNetwork),
	}
	s.RegisterService(&engineServiceDesc, svc)

	hs := health.NewServer()
	for _, device := range devices {
		hs.SetServingStatus(device, healthpb.HealthCheckResponse_SERVING)
	}
	healthpb.RegisterHealthServer(s, hs)
	return svc
}

// Close releases every network still bound through the service
func (s *EngineService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for handle, exec := range s.handles {
		if err := exec.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("error closing network %s: %w", handle, err)
		}
		delete(s.handles, handle)
	}
	return firstErr
}

func (s *EngineService) network(ctx context.Context, path string) (*Network, error) {
	s.mu.Lock()
	n, ok := s.networks[path]
	s.mu.Unlock()
	if ok {
		return n, nil
	}

	n, err := s.engine.ReadNetwork(ctx, path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.networks[path] = n
	s.mu.Unlock()
	return n, nil
}

func (s *EngineService) lookup(handle string) (ExecutableNetwork, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.handles[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	return exec, nil
}

func (s *EngineService) readNetwork(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	n, err := s.network(ctx, req.GetFields()["model"].GetStringValue())
	if err != nil {
		return nil, toStatus(err)
	}
	resp, err := networkToStruct(n)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *EngineService) addExtension(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	if err := s.engine.AddExtension(ctx, f["path"].GetStringValue(), f["device"].GetStringValue()); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

func (s *EngineService) loadNetwork(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	n, err := s.network(ctx, f["model"].GetStringValue())
	if err != nil {
		return nil, toStatus(err)
	}
	exec, err := s.engine.LoadNetwork(ctx, n, f["device"].GetStringValue())
	if err != nil {
		return nil, toStatus(err)
	}

	handle := uuid.NewString()
	s.mu.Lock()
	s.handles[handle] = exec
	s.mu.Unlock()

	resp, err := structpb.NewStruct(map[string]interface{}{"handle": handle})
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *EngineService) infer(ctx context.Context, req *inferRequest) (*inferResponse, error) {
	exec, err := s.lookup(req.Handle)
	if err != nil {
		return nil, toStatus(err)
	}
	inputs, err := fromWire(req.Inputs)
	if err != nil {
		return nil, toStatus(err)
	}
	outputs, err := exec.Infer(ctx, inputs)
	if err != nil {
		return nil, toStatus(err)
	}
	wire, err := toWire(outputs)
	if err != nil {
		return nil, toStatus(err)
	}
	return &inferResponse{Outputs: wire}, nil
}

func (s *EngineService) perfCounts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	exec, err := s.lookup(req.GetFields()["handle"].GetStringValue())
	if err != nil {
		return nil, toStatus(err)
	}
	counts, err := exec.PerfCounts(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	resp, err := perfCountsToStruct(counts)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *EngineService) unload(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	handle := req.GetFields()["handle"].GetStringValue()
	exec, err := s.lookup(handle)
	if err != nil {
		return nil, toStatus(err)
	}
	s.mu.Lock()
	delete(s.handles, handle)
	s.mu.Unlock()

	if err := exec.Close(); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

// structHandler adapts a Struct-in/Struct-out method to a grpc.MethodDesc handler
func structHandler(name string, call func(engineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(engineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(engineServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func inferHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(inferRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(engineServer).infer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(methodInfer)}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(engineServer).infer(ctx, req.(*inferRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var engineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*engineServer)(nil),
	Methods: []grpc.MethodDesc{
		structHandler(methodReadNetwork, engineServer.readNetwork),
		structHandler(methodAddExtension, engineServer.addExtension),
		structHandler(methodLoadNetwork, engineServer.loadNetwork),
		{MethodName: methodInfer, Handler: inferHandler},
		structHandler(methodPerfCounts, engineServer.perfCounts),
		structHandler(methodUnload, engineServer.unload),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gazepointer/inference/v1/engine",
}

// Ensure EngineService implements the handler type
var _ engineServer = (*EngineService)(nil)
