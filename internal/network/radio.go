package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"
)

// ErrNoInterface is returned when no usable interface exists.
var ErrNoInterface = errors.New("no usable network interface")

// ifaceInfo is the part of a host interface the radio cares about.
type ifaceInfo struct {
	Name     string
	Up       bool
	Loopback bool
	IPv4     []netip.Addr
}

// pickInterface returns the interface to use: the one named, or the first
// up, non-loopback interface that has an IPv4 address (falling back to
// the first up, non-loopback interface when none has one yet).
func pickInterface(ifaces []ifaceInfo, name string) (ifaceInfo, bool) {
	if name != "" {
		for _, i := range ifaces {
			if i.Name == name {
				return i, true
			}
		}
		return ifaceInfo{}, false
	}

	var fallback *ifaceInfo
	for idx := range ifaces {
		i := ifaces[idx]
		if !i.Up || i.Loopback {
			continue
		}
		if len(i.IPv4) > 0 {
			return i, true
		}
		if fallback == nil {
			fallback = &ifaces[idx]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return ifaceInfo{}, false
}

// hostInterfaces reads the host's interface table.
func hostInterfaces() ([]ifaceInfo, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]ifaceInfo, 0, len(interfaces))
	for _, iface := range interfaces {
		info := ifaceInfo{
			Name:     iface.Name,
			Up:       iface.Flags&net.FlagUp != 0,
			Loopback: iface.Flags&net.FlagLoopback != 0,
		}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, a := range addrs {
				var ip net.IP
				switch v := a.(type) {
				case *net.IPNet:
					ip = v.IP
				case *net.IPAddr:
					ip = v.IP
				}
				if ip4 := ip.To4(); ip4 != nil {
					if addr, ok := netip.AddrFromSlice(ip4); ok {
						info.IPv4 = append(info.IPv4, addr)
					}
				}
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// HostRadio treats a host network interface as the radio. Association is
// managed by the operating system; the radio only observes it. Join
// succeeds once the interface is up and AcquireAddress once it carries an
// IPv4 address. [HostRadio.Run] polls the interface and reports link
// changes.
type HostRadio struct {
	name   string
	poll   time.Duration
	logger *slog.Logger
	link   chan bool
	list   func() ([]ifaceInfo, error)
}

// NewHostRadio creates a radio for the named interface, or for the first
// usable interface when name is empty.
func NewHostRadio(name string, poll time.Duration, logger *slog.Logger) *HostRadio {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HostRadio{
		name:   name,
		poll:   poll,
		logger: logger.With("component", "radio"),
		link:   make(chan bool, 1),
		list:   hostInterfaces,
	}
}

func (r *HostRadio) current() (ifaceInfo, error) {
	ifaces, err := r.list()
	if err != nil {
		return ifaceInfo{}, fmt.Errorf("list interfaces: %w", err)
	}
	i, ok := pickInterface(ifaces, r.name)
	if !ok {
		if r.name != "" {
			return ifaceInfo{}, fmt.Errorf("interface %q: %w", r.name, ErrNoInterface)
		}
		return ifaceInfo{}, ErrNoInterface
	}
	return i, nil
}

// pollUntil re-evaluates cond every poll interval until it succeeds or
// ctx ends.
func (r *HostRadio) pollUntil(ctx context.Context, cond func() error) error {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		err := cond()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last: %v)", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// Join waits for the interface to come up. The credentials are logged but
// not applied; the host owns association.
func (r *HostRadio) Join(ctx context.Context, creds Credentials) error {
	r.logger.Debug("waiting for host interface", "interface", r.name, "credentials", creds)
	return r.pollUntil(ctx, func() error {
		i, err := r.current()
		if err != nil {
			return err
		}
		if !i.Up {
			return fmt.Errorf("interface %s is down", i.Name)
		}
		return nil
	})
}

// AcquireAddress waits for an IPv4 address on the interface.
func (r *HostRadio) AcquireAddress(ctx context.Context) (netip.Addr, error) {
	var addr netip.Addr
	err := r.pollUntil(ctx, func() error {
		i, err := r.current()
		if err != nil {
			return err
		}
		if !i.Up || len(i.IPv4) == 0 {
			return fmt.Errorf("interface %s has no IPv4 address", i.Name)
		}
		addr = i.IPv4[0]
		return nil
	})
	return addr, err
}

// LinkStatus returns the link change channel fed by [HostRadio.Run].
func (r *HostRadio) LinkStatus() <-chan bool {
	return r.link
}

// Run polls the interface and signals every change of link state until
// ctx is cancelled. The link is up when the interface is up and has an
// IPv4 address.
func (r *HostRadio) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	last := r.linkUp()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			up := r.linkUp()
			if up == last {
				continue
			}
			last = up
			r.logger.Info("host link changed", "up", up)
			r.signal(up)
		}
	}
}

func (r *HostRadio) linkUp() bool {
	i, err := r.current()
	return err == nil && i.Up && len(i.IPv4) > 0
}

// signal delivers the latest link state, replacing an unread one.
func (r *HostRadio) signal(up bool) {
	for {
		select {
		case r.link <- up:
			return
		default:
		}
		select {
		case <-r.link:
		default:
		}
	}
}

// StaticRadio is always joined with a fixed address. It is meant for
// development hosts where the network is not the node's concern.
type StaticRadio struct {
	Addr netip.Addr
}

// Join always succeeds.
func (StaticRadio) Join(ctx context.Context, _ Credentials) error {
	return ctx.Err()
}

// AcquireAddress returns the fixed address, or loopback when unset.
func (r StaticRadio) AcquireAddress(ctx context.Context) (netip.Addr, error) {
	if err := ctx.Err(); err != nil {
		return netip.Addr{}, err
	}
	if r.Addr.IsValid() {
		return r.Addr, nil
	}
	return netip.AddrFrom4([4]byte{127, 0, 0, 1}), nil
}

// LinkStatus returns nil: a static link never drops.
func (StaticRadio) LinkStatus() <-chan bool { return nil }
