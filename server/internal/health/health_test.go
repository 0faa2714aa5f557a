package health

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/musink/musink/pkg/envelope"
	"github.com/musink/musink/server/internal/dispatch"
)

type nopSender struct{}

func (nopSender) Send([]byte) error { return nil }

// startServer serves s on a loopback listener and returns a health client.
func startServer(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	g := grpc.NewServer()
	s.Register(g)
	go g.Serve(lis) //nolint:errcheck
	t.Cleanup(g.Stop)

	conn, err := grpc.Dial(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.Status
}

func TestServiceName(t *testing.T) {
	if got := ServiceName(dispatch.MutualPlaylist); got != "musink.worker.MutualPlaylist" {
		t.Errorf("ServiceName: got %q, want musink.worker.MutualPlaylist", got)
	}
}

func TestNew_InitialStatus(t *testing.T) {
	c := startServer(t, New())

	if got := check(t, c, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall: got %v, want SERVING", got)
	}
	for _, cat := range dispatch.Categories {
		if got := check(t, c, ServiceName(cat)); got != healthpb.HealthCheckResponse_NOT_SERVING {
			t.Errorf("%s: got %v, want NOT_SERVING", cat, got)
		}
	}
}

func TestWatch_FollowsPoolSize(t *testing.T) {
	s := New()
	d := dispatch.New()
	if err := d.Register(dispatch.Other, 1, nopSender{}); err != nil {
		t.Fatal(err)
	}
	s.Watch(d)
	c := startServer(t, s)

	if got := check(t, c, ServiceName(dispatch.Other)); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Other after Watch: got %v, want SERVING", got)
	}

	if err := d.Register(dispatch.MutualPlaylist, 2, nopSender{}); err != nil {
		t.Fatal(err)
	}
	if got := check(t, c, ServiceName(dispatch.MutualPlaylist)); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("MutualPlaylist after register: got %v, want SERVING", got)
	}

	d.Unregister(2)
	if got := check(t, c, ServiceName(dispatch.MutualPlaylist)); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("MutualPlaylist after unregister: got %v, want NOT_SERVING", got)
	}
}

func TestShutdown_NotServing(t *testing.T) {
	s := New()
	s.WorkersChanged(dispatch.MutualPlaylist, 1)
	c := startServer(t, s)

	s.Shutdown()
	if got := check(t, c, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("overall after Shutdown: got %v, want NOT_SERVING", got)
	}

	// Updates after shutdown are ignored.
	s.WorkersChanged(dispatch.MutualPlaylist, 3)
	if got := check(t, c, ServiceName(dispatch.MutualPlaylist)); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("MutualPlaylist after Shutdown: got %v, want NOT_SERVING", got)
	}
}

func TestWatch_LateNotificationDoesNotResurrectPool(t *testing.T) {
	s := New()
	d := dispatch.New()
	s.Watch(d)
	c := startServer(t, s)

	if err := d.Register(dispatch.MutualPlaylist, 1, nopSender{}); err != nil {
		t.Fatal(err)
	}
	d.Unregister(1)

	// The Register notification arrives after the Unregister one.
	s.WorkersChanged(dispatch.MutualPlaylist, 1)

	if got := check(t, c, ServiceName(dispatch.MutualPlaylist)); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("after stale notification: got %v, want NOT_SERVING (pool size %d)", got, d.Size(dispatch.MutualPlaylist))
	}
}

func TestWatch_ParkedObserverKeepsStatusTrue(t *testing.T) {
	s := New()
	d := dispatch.New()
	s.size = d.Size

	parked := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	d.OnChange(func(cat dispatch.Category, size int) {
		if calls.Add(1) == 1 {
			close(parked)
			<-release
		}
		s.WorkersChanged(cat, size)
	})
	c := startServer(t, s)

	registered := make(chan struct{})
	go func() {
		defer close(registered)
		if err := d.Register(dispatch.MutualPlaylist, 1, nopSender{}); err != nil {
			t.Error(err)
		}
	}()
	<-parked
	d.Unregister(1)
	close(release)
	<-registered

	if got := check(t, c, ServiceName(dispatch.MutualPlaylist)); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("got %v with pool size %d, want NOT_SERVING", got, d.Size(dispatch.MutualPlaylist))
	}
}

func TestWatch_ConcurrentChurnSettles(t *testing.T) {
	s := New()
	d := dispatch.New()
	s.Watch(d)
	c := startServer(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id envelope.ConnID) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.Register(dispatch.MutualPlaylist, id, nopSender{}) //nolint:errcheck
				d.Unregister(id)
			}
		}(envelope.ConnID(i + 1))
	}
	wg.Wait()

	if got := check(t, c, ServiceName(dispatch.MutualPlaylist)); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("after churn: got %v, want NOT_SERVING", got)
	}
}
