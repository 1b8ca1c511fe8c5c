package reorder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/quic-go/quic-go"
	tlsutil "github.com/s-anzie/reorder/internal/utils/tls"
)

func testConfig(paths int) *Config {
	cfg := DefaultConfig()
	cfg.Transport.Paths = paths
	cfg.Transport.ChunkSize = 512
	cfg.Log.Level = "silent"
	return cfg
}

func startListener(t *testing.T, cfg *Config, opts *SessionOptions) Listener {
	t.Helper()
	tlsConf, err := tlsutil.GenerateTLSConfig(cfg.Transport.ALPN)
	if err != nil {
		t.Fatal(err)
	}
	ln, err := ListenAddrWithOptions("127.0.0.1:0", tlsConf, cfg, opts)
	if err != nil {
		t.Fatalf("ListenAddr: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}

func dial(t *testing.T, ctx context.Context, ln Listener, cfg *Config) *ClientSession {
	t.Helper()
	sess, err := DialAddr(ctx, ln.Addr(), tlsutil.ClientTLSConfig(cfg.Transport.ALPN), cfg)
	if err != nil {
		t.Fatalf("DialAddr: %v", err)
	}
	t.Cleanup(func() { sess.CloseWithError(0, "test done") })
	return sess
}

func waitDone(t *testing.T, s Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not close")
	}
}

func randomPayload(n int) []byte {
	rng := rand.New(rand.NewPCG(42, uint64(n)))
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(rng.Uint32())
	}
	return p
}

func TestSessionTransfersOverSeveralPaths(t *testing.T) {
	cfg := testConfig(3)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	reg := prometheus.NewRegistry()
	serverMetrics := NewMetrics(reg)
	ln := startListener(t, cfg, &SessionOptions{Metrics: serverMetrics})

	payload := randomPayload(256 * 1024)
	received := make(chan []byte, 1)
	serverErr := make(chan error, 1)
	go func() {
		sess, err := ln.Accept(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		st, err := sess.AcceptStream(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		data, err := io.ReadAll(st)
		if err != nil {
			serverErr <- err
			return
		}
		received <- data
		sess.CloseWithError(0, "received")
	}()

	sess := dial(t, ctx, ln, cfg)
	if sess.Address() != ln.Addr() {
		t.Fatalf("Address = %q, want %q", sess.Address(), ln.Addr())
	}
	if sess.Paths() != 3 {
		t.Fatalf("client paths = %d, want 3", sess.Paths())
	}

	st, err := sess.OpenStream()
	if err != nil {
		t.Fatal(err)
	}
	if !st.StreamID().IsClientInitiated() {
		t.Fatalf("client stream id %d is not client initiated", st.StreamID())
	}
	if _, err := st.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case data := <-received:
		if !bytes.Equal(data, payload) {
			t.Fatalf("server received %d bytes that differ from the %d sent", len(data), len(payload))
		}
	case err := <-serverErr:
		t.Fatalf("server: %v", err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for the server")
	}

	waitDone(t, sess)

	if got := testutil.ToFloat64(serverMetrics.BytesReleased); got != float64(len(payload)) {
		t.Errorf("server released %v bytes, want %d", got, len(payload))
	}
	if got := testutil.ToFloat64(serverMetrics.FramesReceived.WithLabelValues("FIN")); got != 1 {
		t.Errorf("server FIN frames = %v, want 1", got)
	}
}

func TestSessionEchoAndServerStreams(t *testing.T) {
	cfg := testConfig(2)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	ln := startListener(t, cfg, nil)

	serverDone := make(chan error, 1)
	go func() {
		sess, err := ln.Accept(ctx)
		if err != nil {
			serverDone <- err
			return
		}
		st, err := sess.AcceptStream(ctx)
		if err != nil {
			serverDone <- err
			return
		}
		if _, err := io.Copy(st, st); err != nil {
			serverDone <- err
			return
		}
		st.Close()

		push, err := sess.OpenStream()
		if err != nil {
			serverDone <- err
			return
		}
		push.Write([]byte("from server"))
		push.Close()

		<-sess.Done()
		serverDone <- nil
	}()

	sess := dial(t, ctx, ln, cfg)
	st, err := sess.OpenStream()
	if err != nil {
		t.Fatal(err)
	}
	msg := randomPayload(10000)
	st.Write(msg)
	st.Close()

	echo, err := io.ReadAll(st)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(echo, msg) {
		t.Fatalf("echo differs: %d bytes, want %d", len(echo), len(msg))
	}

	pushed, err := sess.AcceptStream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pushed.StreamID().IsClientInitiated() {
		t.Fatalf("server stream id %d looks client initiated", pushed.StreamID())
	}
	data, err := io.ReadAll(pushed)
	if err != nil || string(data) != "from server" {
		t.Fatalf("server stream = %q, %v", data, err)
	}

	sess.CloseWithError(0, "bye")
	select {
	case err := <-serverDone:
		if err != nil {
			t.Fatalf("server: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("server session never observed the close")
	}
}

func TestListenerCloseEndsSessions(t *testing.T) {
	cfg := testConfig(2)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	ln := startListener(t, cfg, nil)

	accepted := make(chan Session, 1)
	go func() {
		sess, err := ln.Accept(ctx)
		if err == nil {
			accepted <- sess
		}
	}()

	client := dial(t, ctx, ln, cfg)
	var server Session
	select {
	case server = <-accepted:
	case <-ctx.Done():
		t.Fatal("no session accepted")
	}
	if n := ln.GetActiveSessionCount(); n != 1 {
		t.Fatalf("active sessions = %d, want 1", n)
	}
	if server.SessionID() != client.SessionID() {
		t.Fatalf("session ids differ: server %s, client %s", server.SessionID(), client.SessionID())
	}

	if err := ln.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitDone(t, server)
	waitDone(t, client)

	if n := ln.GetActiveSessionCount(); n != 0 {
		t.Errorf("active sessions after close = %d", n)
	}
	if _, err := ln.Accept(ctx); !errors.Is(err, quic.ErrServerClosed) {
		t.Errorf("Accept after Close = %v, want ErrServerClosed", err)
	}
	if _, err := client.OpenStream(); !errors.Is(err, ErrSessionClosed) && !errors.Is(err, ErrNoPaths) {
		t.Errorf("OpenStream on a closed session = %v", err)
	}
}

func TestDialFailsOnALPNMismatch(t *testing.T) {
	cfg := testConfig(1)
	cfg.Transport.HandshakeTimeout = time.Second
	ln := startListener(t, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := DialAddr(ctx, ln.Addr(), tlsutil.ClientTLSConfig("other/1"), cfg)
	if err == nil {
		t.Fatal("DialAddr succeeded with a mismatched ALPN")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionSurvivesPathLoss(t *testing.T) {
	cfg := testConfig(2)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	ln := startListener(t, cfg, nil)

	received := make(chan []byte, 1)
	serverErr := make(chan error, 1)
	go func() {
		sess, err := ln.Accept(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		st, err := sess.AcceptStream(ctx)
		if err != nil {
			serverErr <- err
			return
		}
		data, err := io.ReadAll(st)
		if err != nil {
			serverErr <- err
			return
		}
		received <- data
	}()

	sess := dial(t, ctx, ln, cfg)
	sess.pathMgr.Paths()[0].Close()
	waitFor(t, "the closed path to be dropped", func() bool { return sess.Paths() == 1 })

	payload := randomPayload(64 * 1024)
	st, err := sess.OpenStream()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case data := <-received:
		if !bytes.Equal(data, payload) {
			t.Fatalf("server received %d bytes that differ from the %d sent", len(data), len(payload))
		}
	case err := <-serverErr:
		t.Fatalf("server: %v", err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for the server")
	}

	sess.pathMgr.Paths()[0].Close()
	waitDone(t, sess)
	if err := sess.err(); !errors.Is(err, ErrNoPaths) {
		t.Fatalf("session closed with %v, want ErrNoPaths", err)
	}
}
