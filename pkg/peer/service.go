package peer

import (
	"context"

	"google.golang.org/grpc"

	"github.com/lattice-run/lattice/pkg/types"
)

// serviceName is the grpc full method prefix, playing the role a
// .proto package+service name would.
const serviceName = "lattice.peer.PeerAPI"

// DispatchRequest asks the receiving peer to run task fn against
// argRefs, on behalf of the origin peer, per spec §4.5's
// dispatch(task, pickled_function, arg_refs, session_id).
type DispatchRequest struct {
	OriginPeerID string
	ProviderID   string
	SessionID    string
	Task         *types.Task
	Function     *types.FunctionSpec
	ArgRefs      []types.ObjectRef
}

// DispatchResponse is the immediate accept/refuse answer; the eventual
// invocation outcome arrives later via ReportResult.
type DispatchResponse struct {
	Accepted bool
	Reason   string
}

// FetchObjectRequest asks the receiving peer for one object's bytes,
// per spec §4.5's fetch_object(object_id) → bytes | not_found.
type FetchObjectRequest struct {
	ObjectID string
}

type FetchObjectResponse struct {
	Found  bool
	Object *types.Object
}

// SaveObjectRequest lets a Component Runtime process (which has no
// direct access to this peer's embedded object store) save a result
// blob over the network, per spec §6's "Object store RPC" surface.
// This is the worker-facing half of C1; FetchObject above already
// served as the peer-facing half.
type SaveObjectRequest struct {
	Object *types.Object
}

type SaveObjectResponse struct{}

// ProviderSummary is one entry of a gossiped provider catalog.
type ProviderSummary struct {
	ProviderID string
	Kind       types.ProviderKind
	Capacity   types.Capacity
	Allocated  types.Capacity
	Tags       []string
}

// GossipRequest carries the sender's own provider catalog, tagged with
// a monotonic version, per spec §4.5.
type GossipRequest struct {
	PeerID     string
	Address    string
	CatalogVer uint64
	Providers  []ProviderSummary
}

type GossipResponse struct {
	PeerID     string
	Address    string
	CatalogVer uint64
	Providers  []ProviderSummary
}

// ReportResultRequest is the callback a peer that ran a dispatched
// task uses to tell the origin peer how it came out. Dispatch itself
// has no built-in return path since the peer mesh models it as
// fire-and-forget; this closes that loop so the origin's Workflow
// Executor can observe the task's completion.
type ReportResultRequest struct {
	SessionID string
	TaskID    string
	Result    *types.ObjectRef
	ErrorKind types.ErrorKind
	Message   string
}

type ReportResultResponse struct{}

// PeerAPIServer is implemented by *Mesh.
type PeerAPIServer interface {
	Dispatch(context.Context, *DispatchRequest) (*DispatchResponse, error)
	FetchObject(context.Context, *FetchObjectRequest) (*FetchObjectResponse, error)
	SaveObject(context.Context, *SaveObjectRequest) (*SaveObjectResponse, error)
	Gossip(context.Context, *GossipRequest) (*GossipResponse, error)
	ReportResult(context.Context, *ReportResultRequest) (*ReportResultResponse, error)
}

// PeerAPIClient is the client stub, hand-written in place of
// protoc-gen-go-grpc output.
type PeerAPIClient interface {
	Dispatch(ctx context.Context, in *DispatchRequest, opts ...grpc.CallOption) (*DispatchResponse, error)
	FetchObject(ctx context.Context, in *FetchObjectRequest, opts ...grpc.CallOption) (*FetchObjectResponse, error)
	SaveObject(ctx context.Context, in *SaveObjectRequest, opts ...grpc.CallOption) (*SaveObjectResponse, error)
	Gossip(ctx context.Context, in *GossipRequest, opts ...grpc.CallOption) (*GossipResponse, error)
	ReportResult(ctx context.Context, in *ReportResultRequest, opts ...grpc.CallOption) (*ReportResultResponse, error)
}

type peerAPIClient struct {
	cc *grpc.ClientConn
}

// NewPeerAPIClient wraps an established connection to a remote peer.
func NewPeerAPIClient(cc *grpc.ClientConn) PeerAPIClient {
	return &peerAPIClient{cc: cc}
}

func (c *peerAPIClient) Dispatch(ctx context.Context, in *DispatchRequest, opts ...grpc.CallOption) (*DispatchResponse, error) {
	out := new(DispatchResponse)
	opts = append(opts, grpc.CallContentSubtype(jsonCodecName))
	if err := c.cc.Invoke(ctx, serviceName+"/Dispatch", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerAPIClient) FetchObject(ctx context.Context, in *FetchObjectRequest, opts ...grpc.CallOption) (*FetchObjectResponse, error) {
	out := new(FetchObjectResponse)
	opts = append(opts, grpc.CallContentSubtype(jsonCodecName))
	if err := c.cc.Invoke(ctx, serviceName+"/FetchObject", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerAPIClient) SaveObject(ctx context.Context, in *SaveObjectRequest, opts ...grpc.CallOption) (*SaveObjectResponse, error) {
	out := new(SaveObjectResponse)
	opts = append(opts, grpc.CallContentSubtype(jsonCodecName))
	if err := c.cc.Invoke(ctx, serviceName+"/SaveObject", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerAPIClient) Gossip(ctx context.Context, in *GossipRequest, opts ...grpc.CallOption) (*GossipResponse, error) {
	out := new(GossipResponse)
	opts = append(opts, grpc.CallContentSubtype(jsonCodecName))
	if err := c.cc.Invoke(ctx, serviceName+"/Gossip", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *peerAPIClient) ReportResult(ctx context.Context, in *ReportResultRequest, opts ...grpc.CallOption) (*ReportResultResponse, error) {
	out := new(ReportResultResponse)
	opts = append(opts, grpc.CallContentSubtype(jsonCodecName))
	if err := c.cc.Invoke(ctx, serviceName+"/ReportResult", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _PeerAPI_Dispatch_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DispatchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeerAPIServer).Dispatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Dispatch"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PeerAPIServer).Dispatch(ctx, req.(*DispatchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _PeerAPI_FetchObject_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(FetchObjectRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeerAPIServer).FetchObject(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/FetchObject"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PeerAPIServer).FetchObject(ctx, req.(*FetchObjectRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _PeerAPI_SaveObject_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SaveObjectRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeerAPIServer).SaveObject(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/SaveObject"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PeerAPIServer).SaveObject(ctx, req.(*SaveObjectRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _PeerAPI_Gossip_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GossipRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeerAPIServer).Gossip(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Gossip"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PeerAPIServer).Gossip(ctx, req.(*GossipRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _PeerAPI_ReportResult_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReportResultRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeerAPIServer).ReportResult(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/ReportResult"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PeerAPIServer).ReportResult(ctx, req.(*ReportResultRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// peerAPIServiceDesc mirrors what protoc-gen-go-grpc would emit for a
// PeerAPI service with these five unary RPCs.
var peerAPIServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PeerAPIServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Dispatch", Handler: _PeerAPI_Dispatch_Handler},
		{MethodName: "FetchObject", Handler: _PeerAPI_FetchObject_Handler},
		{MethodName: "SaveObject", Handler: _PeerAPI_SaveObject_Handler},
		{MethodName: "Gossip", Handler: _PeerAPI_Gossip_Handler},
		{MethodName: "ReportResult", Handler: _PeerAPI_ReportResult_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lattice/peer/peer.proto",
}

// RegisterPeerAPIServer registers srv's RPCs on s.
func RegisterPeerAPIServer(s *grpc.Server, srv PeerAPIServer) {
	s.RegisterService(&peerAPIServiceDesc, srv)
}
