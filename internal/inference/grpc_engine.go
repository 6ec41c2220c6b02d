package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
	"gorgonia.org/tensor"
)

// maxTensorMessageSize bounds a single Infer request or response
const maxTensorMessageSize = 32 << 20

// GRPCEngine talks to an out-of-process inference engine over gRPC.
// Model metadata travels as protobuf Structs, tensors as msgpack.
type GRPCEngine struct {
	endpoint    string
	conn        *grpc.ClientConn
	health      healthpb.HealthClient
	callTimeout time.Duration
	log         logrus.FieldLogger
}

// GRPCEngineConfig holds configuration for the gRPC engine client
type GRPCEngineConfig struct {
	Endpoint    string
	CallTimeout time.Duration // Timeout for metadata calls; Infer is never time-limited
	DialOptions []grpc.DialOption
	Logger      logrus.FieldLogger
}

// NewGRPCEngine creates a client for the engine at config.Endpoint
func NewGRPCEngine(config GRPCEngineConfig) (*GRPCEngine, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("engine endpoint is required")
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	// Configure keepalive to detect dead connections quickly
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(maxTensorMessageSize),
			grpc.MaxCallRecvMsgSize(maxTensorMessageSize),
		),
	}
	opts = append(opts, config.DialOptions...)

	conn, err := grpc.NewClient(config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine client: %w", err)
	}

	e := &GRPCEngine{
		endpoint:    config.Endpoint,
		conn:        conn,
		health:      healthpb.NewHealthClient(conn),
		callTimeout: config.CallTimeout,
		log:         config.Logger,
	}
	e.log.Infof("[GRPCEngine] Using inference engine at %s", e.endpoint)
	return e, nil
}

func (e *GRPCEngine) invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	resp := new(structpb.Struct)
	if err := e.conn.Invoke(ctx, fullMethod(method), req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ReadNetwork asks the engine to parse the descriptor pair at path
func (e *GRPCEngine) ReadNetwork(ctx context.Context, path string) (*Network, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"model": path})
	if err != nil {
		return nil, err
	}
	resp, err := e.invoke(ctx, methodReadNetwork, req)
	if err != nil {
		return nil, fromStatus(err, ErrUnknownModel)
	}
	network, err := networkFromStruct(resp)
	if err != nil {
		return nil, fmt.Errorf("malformed network description: %w", err)
	}
	if network.Path == "" {
		network.Path = path
	}
	return network, nil
}

// AddExtension registers an extension library for a device
func (e *GRPCEngine) AddExtension(ctx context.Context, path string, device string) error {
	req, err := structpb.NewStruct(map[string]interface{}{"path": path, "device": device})
	if err != nil {
		return err
	}
	if _, err := e.invoke(ctx, methodAddExtension, req); err != nil {
		return fromStatus(err, ErrDeviceUnavailable)
	}
	return nil
}

// checkDevice queries the health service with the device token as service name
func (e *GRPCEngine) checkDevice(ctx context.Context, device string) error {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	resp, err := e.health.Check(ctx, &healthpb.HealthCheckRequest{Service: device})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, device, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s is %s", ErrDeviceUnavailable, device, resp.GetStatus())
	}
	return nil
}

// LoadNetwork binds a network to a device on the engine side
func (e *GRPCEngine) LoadNetwork(ctx context.Context, network *Network, device string) (ExecutableNetwork, error) {
	if err := e.checkDevice(ctx, device); err != nil {
		return nil, err
	}

	req, err := structpb.NewStruct(map[string]interface{}{"model": network.Path, "device": device})
	if err != nil {
		return nil, err
	}
	resp, err := e.invoke(ctx, methodLoadNetwork, req)
	if err != nil {
		return nil, fromStatus(err, ErrUnknownModel)
	}
	handle := resp.GetFields()["handle"].GetStringValue()
	if handle == "" {
		return nil, fmt.Errorf("engine returned no handle for %s", network.Name)
	}

	e.log.Debugf("[GRPCEngine] Loaded %s on %s (handle %s)", network.Name, device, handle)
	return &grpcNetwork{engine: e, handle: handle, name: network.Name}, nil
}

// Close shuts down the gRPC connection
func (e *GRPCEngine) Close() error {
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

// grpcNetwork is a network bound on the engine side, addressed by handle
type grpcNetwork struct {
	engine *GRPCEngine
	handle string
	name   string
}

func (n *grpcNetwork) handleRequest() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{"handle": n.handle})
}

// Infer blocks until the engine answers; a hung engine hangs the caller
func (n *grpcNetwork) Infer(ctx context.Context, inputs map[string]*tensor.Dense) (map[string]*tensor.Dense, error) {
	wire, err := toWire(inputs)
	if err != nil {
		return nil, err
	}

	req := &inferRequest{Handle: n.handle, Inputs: wire}
	resp := new(inferResponse)
	err = n.engine.conn.Invoke(ctx, fullMethod(methodInfer), req, resp,
		grpc.CallContentSubtype(msgpackCodecName))
	if err != nil {
		return nil, fromStatus(err, ErrUnknownHandle)
	}
	return fromWire(resp.Outputs)
}

func (n *grpcNetwork) PerfCounts(ctx context.Context) (map[string]PerfCount, error) {
	req, err := n.handleRequest()
	if err != nil {
		return nil, err
	}
	resp, err := n.engine.invoke(ctx, methodPerfCounts, req)
	if err != nil {
		return nil, fromStatus(err, ErrUnknownHandle)
	}
	return perfCountsFromStruct(resp), nil
}

func (n *grpcNetwork) Close() error {
	req, err := n.handleRequest()
	if err != nil {
		return err
	}
	if _, err := n.engine.invoke(context.Background(), methodUnload, req); err != nil {
		return fromStatus(err, ErrUnknownHandle)
	}
	return nil
}

// Ensure GRPCEngine implements Engine
var _ Engine = (*GRPCEngine)(nil)
