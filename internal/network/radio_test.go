package network

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"
)

func TestPickInterface(t *testing.T) {
	t.Parallel()
	addr := netip.MustParseAddr("10.0.0.5")
	lo := ifaceInfo{Name: "lo", Up: true, Loopback: true, IPv4: []netip.Addr{netip.MustParseAddr("127.0.0.1")}}
	down := ifaceInfo{Name: "eth0", Up: false}
	noAddr := ifaceInfo{Name: "wlan0", Up: true}
	good := ifaceInfo{Name: "wlan1", Up: true, IPv4: []netip.Addr{addr}}

	tests := []struct {
		name   string
		ifaces []ifaceInfo
		want   string
		wantOK bool
	}{
		{"skips loopback and down", []ifaceInfo{lo, down, good}, "wlan1", true},
		{"prefers addressed interface", []ifaceInfo{noAddr, good}, "wlan1", true},
		{"falls back to first up", []ifaceInfo{lo, noAddr}, "wlan0", true},
		{"nothing usable", []ifaceInfo{lo, down}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := pickInterface(tt.ifaces, "")
			if ok != tt.wantOK || got.Name != tt.want {
				t.Errorf("pickInterface() = (%q, %v), want (%q, %v)", got.Name, ok, tt.want, tt.wantOK)
			}
		})
	}

	// A named interface is returned even if it is down.
	if got, ok := pickInterface([]ifaceInfo{good, down}, "eth0"); !ok || got.Name != "eth0" {
		t.Errorf("named pick = (%q, %v), want eth0", got.Name, ok)
	}
	if _, ok := pickInterface([]ifaceInfo{good}, "eth9"); ok {
		t.Error("named pick of missing interface succeeded")
	}
}

// scriptedHost serves an interface table tests can change.
type scriptedHost struct {
	mu    sync.Mutex
	iface ifaceInfo
}

func (h *scriptedHost) set(i ifaceInfo) {
	h.mu.Lock()
	h.iface = i
	h.mu.Unlock()
}

func (h *scriptedHost) list() ([]ifaceInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return []ifaceInfo{h.iface}, nil
}

func newScriptedRadio(h *scriptedHost) *HostRadio {
	r := NewHostRadio("wlan0", time.Millisecond, nil)
	r.list = h.list
	return r
}

func TestHostRadio_JoinWaitsForUp(t *testing.T) {
	t.Parallel()
	h := &scriptedHost{iface: ifaceInfo{Name: "wlan0"}}
	r := newScriptedRadio(h)

	go func() {
		time.Sleep(10 * time.Millisecond)
		h.set(ifaceInfo{Name: "wlan0", Up: true})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Join(ctx, Credentials{SSID: "home"}); err != nil {
		t.Fatalf("Join: %v", err)
	}
}

func TestHostRadio_JoinTimesOut(t *testing.T) {
	t.Parallel()
	r := newScriptedRadio(&scriptedHost{iface: ifaceInfo{Name: "wlan0"}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.Join(ctx, Credentials{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Join() = %v, want deadline exceeded", err)
	}
}

func TestHostRadio_AcquireAddress(t *testing.T) {
	t.Parallel()
	want := netip.MustParseAddr("192.168.4.20")
	h := &scriptedHost{iface: ifaceInfo{Name: "wlan0", Up: true}}
	r := newScriptedRadio(h)

	go func() {
		time.Sleep(10 * time.Millisecond)
		h.set(ifaceInfo{Name: "wlan0", Up: true, IPv4: []netip.Addr{want}})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := r.AcquireAddress(ctx)
	if err != nil {
		t.Fatalf("AcquireAddress: %v", err)
	}
	if got != want {
		t.Errorf("AcquireAddress() = %v, want %v", got, want)
	}
}

func TestHostRadio_RunSignalsLinkChanges(t *testing.T) {
	t.Parallel()
	up := ifaceInfo{Name: "wlan0", Up: true, IPv4: []netip.Addr{netip.MustParseAddr("10.1.1.1")}}
	h := &scriptedHost{iface: up}
	r := newScriptedRadio(h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// Let Run sample the initial state before changing it.
	time.Sleep(5 * time.Millisecond)
	h.set(ifaceInfo{Name: "wlan0", Up: false})

	select {
	case v := <-r.LinkStatus():
		if v {
			t.Error("got link up, want down")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no link-down signal")
	}

	h.set(up)
	select {
	case v := <-r.LinkStatus():
		if !v {
			t.Error("got link down, want up")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no link-up signal")
	}
}

func TestHostRadio_SignalKeepsLatest(t *testing.T) {
	t.Parallel()
	r := NewHostRadio("", time.Second, nil)
	r.signal(false)
	r.signal(true)

	if v := <-r.LinkStatus(); !v {
		t.Error("stale signal delivered instead of the latest")
	}
}

func TestStaticRadio(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var r StaticRadio
	if err := r.Join(ctx, Credentials{}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	addr, err := r.AcquireAddress(ctx)
	if err != nil || !addr.IsLoopback() {
		t.Errorf("AcquireAddress() = %v, %v; want loopback", addr, err)
	}
	if r.LinkStatus() != nil {
		t.Error("LinkStatus() should be nil")
	}

	fixed := StaticRadio{Addr: netip.MustParseAddr("10.9.9.9")}
	if addr, _ := fixed.AcquireAddress(ctx); addr != fixed.Addr {
		t.Errorf("AcquireAddress() = %v, want %v", addr, fixed.Addr)
	}
}

func TestCredentialsLogValueHidesPassword(t *testing.T) {
	t.Parallel()
	v := Credentials{SSID: "home", Password: "hunter2"}.LogValue()
	for _, a := range v.Group() {
		if a.Value.String() == "hunter2" {
			t.Error("password appears in log value")
		}
	}
}
