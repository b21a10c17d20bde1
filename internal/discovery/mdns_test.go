// ABOUTME: Tests for mDNS discovery
// ABOUTME: Tests manager defaults, TXT records and lifecycle
package discovery

import (
	"testing"
	"time"

	"github.com/Resonate-Protocol/playthrough/internal/version"
)

func TestNewManager(t *testing.T) {
	config := Config{
		ServiceName: "Studio Mac",
		Port:        8928,
	}

	mgr := NewManager(config)
	if mgr == nil {
		t.Fatal("expected manager to be created")
	}
	if mgr.config.Path != "/control" {
		t.Errorf("expected default path /control, got %q", mgr.config.Path)
	}
	if mgr.config.BrowseTimeout != 3*time.Second {
		t.Errorf("expected default browse timeout 3s, got %v", mgr.config.BrowseTimeout)
	}
}

func TestTXTRecords(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "x", Port: 1, Path: "/ctl"})
	txt := mgr.txtRecords()

	want := []string{"path=/ctl", "version=" + version.Version, "product=" + version.Product}
	if len(txt) != len(want) {
		t.Fatalf("expected %d records, got %v", len(want), txt)
	}
	for i := range want {
		if txt[i] != want[i] {
			t.Errorf("record %d: expected %q, got %q", i, want[i], txt[i])
		}
	}
}

func TestServiceInfoAddress(t *testing.T) {
	info := &ServiceInfo{Host: "192.168.1.20", Port: 8928}
	if got := info.Address(); got != "192.168.1.20:8928" {
		t.Errorf("unexpected address %q", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "x", Port: 1})
	mgr.Stop()
	mgr.Stop()

	select {
	case <-mgr.ctx.Done():
	default:
		t.Error("expected context to be cancelled")
	}
}

func TestGetLocalIPsSkipsLoopback(t *testing.T) {
	ips, err := getLocalIPs()
	if err != nil {
		t.Skipf("no interfaces: %v", err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() {
			t.Errorf("loopback address %v returned", ip)
		}
		if ip.To4() == nil {
			t.Errorf("non-IPv4 address %v returned", ip)
		}
	}
}
