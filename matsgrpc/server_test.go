package matsgrpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mats-go/mats/broker/inmem"
	"github.com/mats-go/mats/config"
	"github.com/mats-go/mats/factory"
	"github.com/mats-go/mats/logging"
	"github.com/mats-go/mats/serde"
	"github.com/mats-go/mats/stage"
	"github.com/mats-go/mats/txn"
)

type widget struct {
	Name string
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := serde.NewJSONSerializer()
	s.RegisterType("widget", widget{})

	cfg := config.DefaultFactoryConfig()
	cfg.DefaultConcurrency = 1
	cfg.StopGracePeriod = time.Second

	f, err := factory.New(factory.Deps{
		Serializer:    s,
		BrokerFactory: inmem.New(),
		Coordinator:   txn.New(nil, nil),
		Logger:        logging.NewNoopLogger(),
	}, cfg)
	require.NoError(t, err)

	_, err = f.Terminator("widgets", "widget", func(ctx *stage.Context, incoming, state any) error { return nil })
	require.NoError(t, err)

	t.Cleanup(func() { _ = f.Close() })
	return NewServer(f, logging.NewNoopLogger())
}

func TestServer_ListEndpoints_ReturnsRegisteredEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.ListEndpoints(context.Background(), nil)
	require.NoError(t, err)

	endpoints := resp.AsMap()["endpoints"].([]any)
	require.Len(t, endpoints, 1)
	first := endpoints[0].(map[string]any)
	assert.Equal(t, "widgets", first["id"])
	assert.Equal(t, true, first["running"])
}

func TestServer_ListEndpoints_FiltersByPrefix(t *testing.T) {
	srv := newTestServer(t)

	req, err := structpb.NewStruct(map[string]any{"prefix": "nomatch"})
	require.NoError(t, err)
	resp, err := srv.ListEndpoints(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []any{}, resp.AsMap()["endpoints"])
}

func TestServer_GetEndpoint_NotFound(t *testing.T) {
	srv := newTestServer(t)

	req, err := structpb.NewStruct(map[string]any{"id": "missing"})
	require.NoError(t, err)
	_, err = srv.GetEndpoint(context.Background(), req)
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.NotFound, st.Code())
}

func TestServer_GetEndpoint_MissingID_IsInvalidArgument(t *testing.T) {
	srv := newTestServer(t)

	_, err := srv.GetEndpoint(context.Background(), nil)
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())
}

func TestServer_ListStages_ReturnsStageIDs(t *testing.T) {
	srv := newTestServer(t)

	req, err := structpb.NewStruct(map[string]any{"endpoint_id": "widgets"})
	require.NoError(t, err)
	resp, err := srv.ListStages(context.Background(), req)
	require.NoError(t, err)
	stages := resp.AsMap()["stages"].([]any)
	assert.Equal(t, []any{"widgets"}, stages)
}

func TestServer_GetFactoryStatus_ReportsRunning(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.GetFactoryStatus(context.Background(), nil)
	require.NoError(t, err)
	m := resp.AsMap()
	assert.Equal(t, true, m["running"])
	assert.Equal(t, float64(1), m["endpoint_count"])
}

func TestServer_Ping_Succeeds(t *testing.T) {
	srv := newTestServer(t)
	_, err := srv.Ping(context.Background(), nil)
	assert.NoError(t, err)
}
