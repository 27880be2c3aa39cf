package hostconn

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orchid-lang/corex/internal/codec"
	"github.com/orchid-lang/corex/internal/driver"
	"github.com/orchid-lang/corex/internal/intern"
	"github.com/orchid-lang/corex/internal/mux"
	"github.com/orchid-lang/corex/internal/proto"
	"github.com/orchid-lang/corex/internal/system"
	"github.com/orchid-lang/corex/internal/ticket"
	"github.com/orchid-lang/corex/internal/transport"
)

func connectedPair() (a, b *transport.Duplex) {
	arPipe, awPipe := io.Pipe()
	brPipe, bwPipe := io.Pipe()
	a = transport.NewDuplex(brPipe, awPipe)
	b = transport.NewDuplex(arPipe, bwPipe)
	return a, b
}

// fakeExtHandler answers HostExtReq requests the way a minimal extension
// would, for exercising Router's outbound encoding without a real
// subprocess.
func fakeExtHandler(t *testing.T) mux.RequestHandler {
	return func(h *mux.RequestHandle, payload []byte) {
		req, err := proto.DecodeHostExtReq(payload)
		require.NoError(t, err)
		switch req.Tag {
		case proto.HostNewSystem:
			var buf bytes.Buffer
			w := codec.NewWriter(&buf)
			require.NoError(t, proto.WriteSystemInst(w, proto.SystemInst{LexFilter: []proto.CharRange{{Lo: 'a', Hi: 'z'}}}))
			require.NoError(t, h.Reply(buf.Bytes()))
		case proto.HostLexExpr:
			var buf bytes.Buffer
			w := codec.NewWriter(&buf)
			res := proto.LexExprResult{Found: true, Lexed: proto.LexedExprWire{Pos: req.LexExpr.Pos + 1}}
			require.NoError(t, proto.WriteLexExprResult(w, res))
			require.NoError(t, h.Reply(buf.Bytes()))
		default:
			require.NoError(t, h.Reply(nil))
		}
	}
}

func TestRouterNewSystemAndLexExpr(t *testing.T) {
	hostConn, extConn := connectedPair()

	extMux := mux.New(extConn, zap.NewNop(), nil, fakeExtHandler(t))
	hostMux := mux.New(hostConn, zap.NewNop(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = extMux.Run(ctx) }()
	go func() { defer wg.Done(); _ = hostMux.Run(ctx) }()

	router := NewRouter()
	router.Add("demo", hostMux)

	filter, err := router.NewSystem(context.Background(), "demo", 1, 7, nil)
	require.NoError(t, err)
	require.Equal(t, driver.LexFilter{{Lo: 'a', Hi: 'z'}}, filter)

	lexed, domainErr, err := router.LexExpr(context.Background(), 7, proto.NewParsID(), "abc", 0)
	require.NoError(t, err)
	require.Nil(t, domainErr)
	require.Equal(t, uint32(1), lexed.Pos)

	cancel()
	wg.Wait()
}

func TestServerHandleIntReq(t *testing.T) {
	hostConn, extConn := connectedPair()

	strings := intern.NewHostTable()
	tickets := ticket.NewManager(nil, nil)
	srv := NewServer(zap.NewNop(), tickets, NewExprStore(), driver.NewLexCoordinator(), driver.NewMacroCoordinator(), strings, nil)

	onNotify, onRequest := srv.HandlerFor(system.ExtensionID("demo"))
	hostMux := mux.New(hostConn, zap.NewNop(), onNotify, onRequest)
	extMux := mux.New(extConn, zap.NewNop(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = hostMux.Run(ctx) }()
	go func() { defer wg.Done(); _ = extMux.Run(ctx) }()

	payload, err := proto.EncodeExtHostReq(proto.ExtHostReq{
		Tag:    proto.ExtIntReq,
		IntReq: proto.IntReq{Tag: proto.IntInternStr, Str: "hello"},
	})
	require.NoError(t, err)

	resp, err := extMux.Request(context.Background(), payload)
	require.NoError(t, err)

	res, err := decode(resp, proto.ReadIntResult)
	require.NoError(t, err)
	require.Equal(t, proto.IntInternStr, res.Tag)
	require.NotZero(t, res.Tok)

	str, ok := strings.ExternStr(res.Tok)
	require.True(t, ok)
	require.Equal(t, "hello", str)

	cancel()
	wg.Wait()
}
