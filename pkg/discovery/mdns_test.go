package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
)

func testEntry(instance string, ips ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{}
	e.Instance = instance
	e.HostName = "dev.local."
	e.Port = 8080
	e.Text = []string{"v=1", "sp=/api/stream", "tp=/api/stream/token", "tr=sse"}
	for _, ip := range ips {
		parsed := net.ParseIP(ip)
		if parsed.To4() != nil {
			e.AddrIPv4 = append(e.AddrIPv4, parsed)
		} else {
			e.AddrIPv6 = append(e.AddrIPv6, parsed)
		}
	}
	return e
}

func TestEntryToBackend(t *testing.T) {
	svc := entryToBackend(testEntry("dev", "192.168.1.10", "fe80::1"))
	if svc == nil {
		t.Fatal("entry rejected")
	}
	if svc.InstanceName != "dev" || svc.Port != 8080 || svc.Host != "dev.local." {
		t.Errorf("unexpected service: %+v", svc)
	}
	if len(svc.Addresses) != 2 || svc.Addresses[0] != "192.168.1.10" {
		t.Errorf("Addresses = %v", svc.Addresses)
	}
	if got := svc.BaseURL(); got != "http://192.168.1.10:8080" {
		t.Errorf("BaseURL = %q", got)
	}
}

func TestEntryToBackendRejectsForeignTXT(t *testing.T) {
	e := testEntry("other", "10.0.0.1")
	e.Text = []string{"D=1234"}
	if svc := entryToBackend(e); svc != nil {
		t.Errorf("expected nil, got %+v", svc)
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		svc  BackendService
		want string
	}{
		{BackendService{Host: "dev.local.", Port: 80}, "http://dev.local.:80"},
		{BackendService{Host: "h", Port: 443, TLS: true}, "https://h:443"},
		{BackendService{Addresses: []string{"fe80::1"}, Port: 8080}, "http://[fe80::1]:8080"},
	}
	for _, tt := range tests {
		if got := tt.svc.BaseURL(); got != tt.want {
			t.Errorf("BaseURL() = %q, want %q", got, tt.want)
		}
	}
}

func TestMergeAndRemoveAddresses(t *testing.T) {
	addrs := mergeAddresses([]string{"10.0.0.1"}, []string{"10.0.0.1", "10.0.0.2"})
	if len(addrs) != 2 {
		t.Fatalf("merge: %v", addrs)
	}
	addrs = removeAddresses(addrs, testEntry("dev", "10.0.0.1"))
	if len(addrs) != 1 || addrs[0] != "10.0.0.2" {
		t.Errorf("remove: %v", addrs)
	}
}

func TestFirstMatch(t *testing.T) {
	results := make(chan *BackendService, 3)
	results <- &BackendService{InstanceName: "a"}
	results <- &BackendService{InstanceName: "b"}
	close(results)

	svc, err := firstMatch(context.Background(), results, "b")
	if err != nil || svc.InstanceName != "b" {
		t.Fatalf("got %v, %v", svc, err)
	}

	empty := make(chan *BackendService)
	close(empty)
	if _, err := firstMatch(context.Background(), empty, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("closed channel: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := firstMatch(ctx, make(chan *BackendService), ""); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("timeout: %v", err)
	}
}

func TestAdvertiserRequiresName(t *testing.T) {
	a := NewAdvertiser(DefaultAdvertiserConfig())
	if err := a.Advertise(&BackendInfo{}); !errors.Is(err, ErrMissingRequired) {
		t.Errorf("Advertise without name: %v", err)
	}
	if err := a.Update(&BackendInfo{Name: "x"}); !errors.Is(err, ErrNotAdvertising) {
		t.Errorf("Update before Advertise: %v", err)
	}
	a.Stop()
}
