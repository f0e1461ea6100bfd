// Package matsgrpc exposes a read-only admin/control-plane gRPC surface
// over a Factory's frozen endpoint registry: list endpoints, inspect one,
// list its stages, report aggregate factory status, and a Ping health
// check. It is never the message transport — the broker stays an
// interface the stage runtime drives directly — this is purely the
// operational surface an operator or dashboard hits.
//
// The service is hand-assembled as a grpc.ServiceDesc rather than
// generated from a .proto file: requests and responses are
// google.golang.org/protobuf/types/known/structpb.Struct values (a
// schemaless protobuf message), so the wire format stays real protobuf
// without a generated client/server stub.
package matsgrpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mats-go/mats/factory"
	"github.com/mats-go/mats/logging"
	"github.com/mats-go/mats/matstypeutil"
)

// Server implements the admin surface's RPC handlers against one Factory.
// ServiceName and the wire wiring itself live in desc.go.
type Server struct {
	factory *factory.Factory
	logger  logging.Logger
}

// NewServer returns a Server backed by f. A nil logger defaults to a
// no-op logger.
func NewServer(f *factory.Factory, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Server{factory: f, logger: logger}
}

// asMap returns req's field map, or an empty map if req is nil — every
// RPC here tolerates a nil/empty request as "no filter".
func asMap(req *structpb.Struct) map[string]any {
	if req == nil {
		return map[string]any{}
	}
	return req.AsMap()
}

func endpointDescriptor(ep *endpointView) map[string]any {
	stageIDs := make([]any, len(ep.StageIDs))
	for i, sid := range ep.StageIDs {
		stageIDs[i] = sid
	}
	return map[string]any{
		"id":             ep.ID,
		"state_class":    ep.StateClass,
		"reply_class":    ep.ReplyClass,
		"incoming_class": ep.IncomingClass,
		"stage_ids":      stageIDs,
		"running":        ep.Running,
	}
}

// ListEndpoints returns every registered endpoint's introspection data,
// optionally filtered by an id prefix carried in req.Fields["prefix"].
func (s *Server) ListEndpoints(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	data := asMap(req)
	prefix, _ := matstypeutil.GetNestedString(data, "prefix")

	var descriptors []any
	for _, id := range s.factory.EndpointIDs() {
		if prefix != "" && !strings.HasPrefix(id, prefix) {
			continue
		}
		ep, ok := s.lookup(id)
		if !ok {
			continue
		}
		descriptors = append(descriptors, endpointDescriptor(ep))
	}

	out, err := structpb.NewStruct(map[string]any{"endpoints": descriptors})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "building response: %v", err)
	}
	return out, nil
}

// GetEndpoint returns one endpoint's introspection data by id, carried in
// req.Fields["id"].
func (s *Server) GetEndpoint(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, ok := matstypeutil.GetNestedString(asMap(req), "id")
	if !ok || id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	ep, ok := s.lookup(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "endpoint not found: %s", id)
	}
	out, err := structpb.NewStruct(endpointDescriptor(ep))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "building response: %v", err)
	}
	return out, nil
}

// ListStages returns the ordered queue ids of one endpoint's stages.
func (s *Server) ListStages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, ok := matstypeutil.GetNestedString(asMap(req), "endpoint_id")
	if !ok || id == "" {
		return nil, status.Error(codes.InvalidArgument, "endpoint_id is required")
	}
	ep, ok := s.lookup(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "endpoint not found: %s", id)
	}
	stages := make([]any, len(ep.StageIDs))
	for i, sid := range ep.StageIDs {
		stages[i] = sid
	}
	out, err := structpb.NewStruct(map[string]any{"endpoint_id": id, "stages": stages})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "building response: %v", err)
	}
	return out, nil
}

// GetFactoryStatus reports aggregate state across every registered
// endpoint: whether the factory is running (any endpoint running) and
// the full id list.
func (s *Server) GetFactoryStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	ids := s.factory.EndpointIDs()
	anyIDs := make([]any, len(ids))
	for i, id := range ids {
		anyIDs[i] = id
	}
	out, err := structpb.NewStruct(map[string]any{
		"running":        s.factory.IsRunning(),
		"endpoint_count": len(ids),
		"endpoint_ids":   anyIDs,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "building response: %v", err)
	}
	return out, nil
}

// Ping is a trivial liveness check.
func (s *Server) Ping(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	return &emptypb.Empty{}, nil
}

// endpointView is the read-only projection of an endpoint.Endpoint this
// package exposes over the wire.
type endpointView struct {
	ID            string
	StateClass    string
	ReplyClass    string
	IncomingClass string
	StageIDs      []string
	Running       bool
}

func (s *Server) lookup(id string) (*endpointView, bool) {
	ep, ok := s.factory.Endpoint(id)
	if !ok {
		return nil, false
	}
	return &endpointView{
		ID:            ep.ID(),
		StateClass:    ep.StateClass(),
		ReplyClass:    ep.ReplyClass(),
		IncomingClass: ep.IncomingClass(),
		StageIDs:      ep.StageIDs(),
		Running:       ep.IsRunning(),
	}, true
}
