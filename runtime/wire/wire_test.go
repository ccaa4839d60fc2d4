package wire

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/wuild-project/wuild/runtime/model"
)

func TestPrimitivesRoundTrip(t *testing.T) {
	w := NewWriter(DefaultByteOrder)
	w.U8(7)
	w.U32(123456)
	w.U64(7890123456789)
	w.I64(-42)
	w.Bool(true)
	w.PStr("hello")
	w.Blob([]byte{1, 2, 3})
	w.PStrVec([]string{"a", "bb", "ccc"})

	r := NewReader(w.Bytes(), DefaultByteOrder)
	u8, err := r.U8()
	require.NoError(t, err)
	require.EqualValues(t, 7, u8)
	u32, err := r.U32()
	require.NoError(t, err)
	require.EqualValues(t, 123456, u32)
	u64, err := r.U64()
	require.NoError(t, err)
	require.EqualValues(t, 7890123456789, u64)
	i64, err := r.I64()
	require.NoError(t, err)
	require.EqualValues(t, -42, i64)
	b, err := r.Bool()
	require.NoError(t, err)
	require.True(t, b)
	s, err := r.PStr()
	require.NoError(t, err)
	require.Equal(t, "hello", s)
	blob, err := r.Blob()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, blob)
	vec, err := r.PStrVec()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "bb", "ccc"}, vec)
	require.Zero(t, r.Remaining())
}

func TestToolRequestRoundTrip(t *testing.T) {
	req := ToolRequest{
		ClientId:  "client-1",
		SessionId: 1234567890,
		FileData:  []byte("preprocessed source"),
		Args:      []string{"-x", "cpp-output", "-c", "-"},
		ToolId:    "gcc9",
		Compression: model.CompressionInfo{Type: model.CompressionGzip, Level: 6},
	}
	encoded := req.Encode(DefaultByteOrder)
	decoded, err := DecodeToolRequest(encoded, DefaultByteOrder)
	require.NoError(t, err)
	require.Equal(t, req, decoded)
}

func TestToolResponseRoundTrip(t *testing.T) {
	resp := ToolResponse{
		Result:          true,
		FileData:        []byte("object file bytes"),
		Stdout:          "warning: unused variable",
		ExecutionTimeUs: 984321,
		Compression:     model.CompressionInfo{Type: model.CompressionNone},
	}
	encoded := resp.Encode(DefaultByteOrder)
	decoded, err := DecodeToolResponse(encoded, DefaultByteOrder)
	require.NoError(t, err)
	require.Equal(t, resp, decoded)
}

func TestListResponseRoundTrip(t *testing.T) {
	lr := ListResponse{
		ToolServers: []model.ToolServerInfo{
			{
				ServerId:     "srv-1",
				Host:         "10.0.0.1",
				Port:         9001,
				ToolIds:      []string{"gcc9", "clang14"},
				TotalThreads: 8,
				RunningTasks: 2,
				QueuedTasks:  1,
				ConnectedClients: []model.ConnectedClientInfo{
					{ClientId: "c1", SessionId: 111, UsedThreads: 2},
				},
			},
		},
	}
	encoded := lr.Encode(DefaultByteOrder)
	decoded, err := DecodeListResponse(encoded, DefaultByteOrder)
	require.NoError(t, err)
	require.Equal(t, lr, decoded)
}

// TestFrameRoundTripProperty verifies spec §8: "for all frames F written
// by sender and read by receiver, decode(encode(F)) == F."
func TestFrameRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("ToolRequest round-trips through Encode/Decode", prop.ForAll(
		func(clientId string, sessionId uint64, data []byte, args []string, toolId string, compType uint32, level int) bool {
			req := ToolRequest{
				ClientId:  clientId,
				SessionId: sessionId,
				FileData:  data,
				Args:      args,
				ToolId:    toolId,
				Compression: model.CompressionInfo{Type: model.CompressionType(compType % 2), Level: level},
			}
			decoded, err := DecodeToolRequest(req.Encode(DefaultByteOrder), DefaultByteOrder)
			if err != nil {
				return false
			}
			if len(decoded.Args) == 0 {
				decoded.Args = nil
			}
			if len(req.Args) == 0 {
				req.Args = nil
			}
			return decoded.ClientId == req.ClientId &&
				decoded.SessionId == req.SessionId &&
				string(decoded.FileData) == string(req.FileData) &&
				reflect.DeepEqual(decoded.Args, req.Args) &&
				decoded.ToolId == req.ToolId &&
				decoded.Compression == req.Compression
		},
		gen.AlphaString(),
		gen.UInt64(),
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.AlphaString()),
		gen.AlphaString(),
		gen.UInt32(),
		gen.IntRange(0, 9),
	))

	properties.TestingRun(t)
}
