package transport

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	env, err := Encode(MsgInvokeRequest, InvokeRequest{
		SessionID: "sess-1",
		Args:      []Arg{{ParamName: "x", Ref: ObjectRef{ID: "obj.1", Source: "peer-a"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, MsgInvokeRequest, env.Type)

	var got InvokeRequest
	require.NoError(t, Decode(env, &got))
	assert.Equal(t, "sess-1", got.SessionID)
	require.Len(t, got.Args, 1)
	assert.Equal(t, "obj.1", got.Args[0].Ref.ID)
}

func TestListenDialWriteReadEnvelope(t *testing.T) {
	ln, err := Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan Envelope, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		defer conn.Close()
		env, err := conn.ReadEnvelope()
		require.NoError(t, err)
		serverDone <- env
	}()

	client, err := Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	env, err := Encode(MsgReady, Ready{ComponentID: "comp-1"})
	require.NoError(t, err)
	require.NoError(t, client.WriteEnvelope(env))

	got := <-serverDone
	assert.Equal(t, MsgReady, got.Type)
	var ready Ready
	require.NoError(t, Decode(got, &ready))
	assert.Equal(t, "comp-1", ready.ComponentID)
}

func TestReadEnvelopeSequencePreservesOrder(t *testing.T) {
	ln, err := Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for _, typ := range []MessageType{MsgReady, MsgFunction, MsgAck} {
			env, _ := Encode(typ, map[string]string{"k": string(typ)})
			_ = conn.WriteEnvelope(env)
		}
	}()

	client, err := Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	for _, want := range []MessageType{MsgReady, MsgFunction, MsgAck} {
		env, err := client.ReadEnvelope()
		require.NoError(t, err)
		assert.Equal(t, want, env.Type)
	}
}

func TestReadEnvelopeRejectsOversizedFrame(t *testing.T) {
	ln, err := Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	result := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			result <- err
			return
		}
		defer conn.Close()
		_, err = conn.ReadEnvelope()
		result <- err
	}()

	// Dial with a raw net.Conn so the oversized length prefix can be
	// written without going through WriteEnvelope's own bound.
	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer raw.Close()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], maxFrameBytes+1)
	_, err = raw.Write(lenBuf[:])
	require.NoError(t, err)

	err = <-result
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of bounds")
}

func TestReadEnvelopeReturnsEOFOnClosedConn(t *testing.T) {
	ln, err := Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	client, err := Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.ReadEnvelope()
	require.Error(t, err)
}
