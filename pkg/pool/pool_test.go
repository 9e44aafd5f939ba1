package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-run/lattice/pkg/transport"
	"github.com/lattice-run/lattice/pkg/types"
)

// fakeWorker drives the worker side of the handshake and echoes one
// invocation, standing in for cmd/lattice-worker in these tests.
func fakeWorker(t *testing.T, addr, componentID string, handle func(transport.InvokeRequest) transport.InvokeResponse) {
	t.Helper()
	conn, err := transport.Dial("tcp", addr)
	require.NoError(t, err)

	readyEnv, err := transport.Encode(transport.MsgReady, transport.Ready{ComponentID: componentID})
	require.NoError(t, err)
	require.NoError(t, conn.WriteEnvelope(readyEnv))

	env, err := conn.ReadEnvelope()
	require.NoError(t, err)
	assert.Equal(t, transport.MsgFunction, env.Type)

	ackEnv, err := transport.Encode(transport.MsgAck, transport.Ack{Ok: true})
	require.NoError(t, err)
	require.NoError(t, conn.WriteEnvelope(ackEnv))

	if handle == nil {
		return
	}

	go func() {
		for {
			env, err := conn.ReadEnvelope()
			if err != nil {
				return
			}
			if env.Type != transport.MsgInvokeRequest {
				continue
			}
			var req transport.InvokeRequest
			_ = transport.Decode(env, &req)
			resp := handle(req)
			respEnv, _ := transport.Encode(transport.MsgInvokeResponse, resp)
			_ = conn.WriteEnvelope(respEnv)
		}
	}()
}

func TestHandshakeAndInvoke(t *testing.T) {
	r := New(2 * time.Second)
	addr, err := r.Listen("127.0.0.1:0")
	require.NoError(t, err)

	fn := &types.FunctionSpec{Name: "double", Language: types.LanguageJSON}
	waiter := r.ExpectComponent("comp-1", "fp-1", "provider-1", fn)

	go fakeWorker(t, addr, "comp-1", func(req transport.InvokeRequest) transport.InvokeResponse {
		return transport.InvokeResponse{SessionID: req.SessionID, Result: &transport.ObjectRef{ID: "obj.result"}}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	comp, err := r.Wait(ctx, "comp-1", waiter)
	require.NoError(t, err)
	assert.Equal(t, types.ComponentIdle, comp.State)

	idle := r.IdleComponents("fp-1")
	require.Len(t, idle, 1)
	assert.Equal(t, "comp-1", idle[0].ID)

	resp, err := r.Invoke(ctx, "comp-1", NewSessionID(), nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "obj.result", resp.Result.ID)

	comp, ok := r.Component("comp-1")
	require.True(t, ok)
	assert.Equal(t, types.ComponentIdle, comp.State)
}

func TestInvokeTimesOutAndDrains(t *testing.T) {
	r := New(2 * time.Second)
	addr, err := r.Listen("127.0.0.1:0")
	require.NoError(t, err)

	fn := &types.FunctionSpec{Name: "slow", Language: types.LanguageJSON}
	waiter := r.ExpectComponent("comp-2", "fp-2", "provider-1", fn)
	go fakeWorker(t, addr, "comp-2", func(req transport.InvokeRequest) transport.InvokeResponse {
		time.Sleep(500 * time.Millisecond)
		return transport.InvokeResponse{SessionID: req.SessionID, Result: &transport.ObjectRef{ID: "obj.late"}}
	})

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = r.Wait(waitCtx, "comp-2", waiter)
	require.NoError(t, err)

	invokeCtx, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	_, err = r.Invoke(invokeCtx, "comp-2", NewSessionID(), nil)
	assert.Error(t, err)

	comp, ok := r.Component("comp-2")
	require.True(t, ok)
	assert.Equal(t, types.ComponentDraining, comp.State)
}

func TestUnexpectedReadyIsRejected(t *testing.T) {
	r := New(time.Second)
	addr, err := r.Listen("127.0.0.1:0")
	require.NoError(t, err)

	conn, err := transport.Dial("tcp", addr)
	require.NoError(t, err)
	env, err := transport.Encode(transport.MsgReady, transport.Ready{ComponentID: "ghost"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteEnvelope(env))

	_, err = conn.ReadEnvelope()
	assert.Error(t, err) // router closes the connection without sending FUNCTION
}
