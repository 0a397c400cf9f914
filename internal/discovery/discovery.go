// Package discovery advertises the control endpoint over mDNS/DNS-SD and
// browses for other units on the local network.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/earti/camlift/internal/debug"
)

const (
	ServiceType = "_camlift._tcp"
	Domain      = "local."
	WSPath      = "/ws"

	DefaultScanTimeout = 3 * time.Second
)

// Unit is one advertised camlift endpoint.
type Unit struct {
	Instance string
	Zone     string
	Address  string // host:port
	Path     string
}

// URL returns the WebSocket URL of the unit.
func (u Unit) URL() string {
	return "ws://" + u.Address + u.Path
}

// TXT builds the TXT records for an instance serving zone.
func TXT(zone string) []string {
	txt := []string{"path=" + WSPath}
	if zone != "" {
		txt = append(txt, "zone="+zone)
	}
	return txt
}

// Advertise registers the endpoint and blocks until ctx is cancelled.
func Advertise(ctx context.Context, instance, zone string, port int) error {
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, TXT(zone), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	debug.Info("mDNS: advertising %s.%s on port %d (zone %q)", instance, ServiceType, port, zone)
	<-ctx.Done()
	server.Shutdown()
	debug.Verbose("mDNS: advertisement withdrawn")
	return nil
}

// Scan browses for units until timeout (DefaultScanTimeout when <= 0) or ctx ends.
func Scan(ctx context.Context, timeout time.Duration) ([]Unit, error) {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		mu    sync.Mutex
		units []Unit
		wg    sync.WaitGroup
	)

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			u, ok := entryToUnit(entry)
			if !ok {
				continue
			}
			mu.Lock()
			units = append(units, u)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(scanCtx, ServiceType, Domain, entries); err != nil {
		cancel()
		wg.Wait()
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-scanCtx.Done()
	wg.Wait()

	sort.Slice(units, func(i, j int) bool { return units[i].Instance < units[j].Instance })
	return units, nil
}

func entryToUnit(entry *zeroconf.ServiceEntry) (Unit, bool) {
	var address string
	switch {
	case len(entry.AddrIPv4) > 0:
		address = fmt.Sprintf("%s:%d", entry.AddrIPv4[0], entry.Port)
	case len(entry.AddrIPv6) > 0:
		address = fmt.Sprintf("[%s]:%d", entry.AddrIPv6[0], entry.Port)
	default:
		return Unit{}, false
	}

	txt := parseTXT(entry.Text)
	path := txt["path"]
	if path == "" {
		path = WSPath
	}
	return Unit{
		Instance: entry.ServiceRecord.Instance,
		Zone:     txt["zone"],
		Address:  address,
		Path:     path,
	}, true
}

func parseTXT(records []string) map[string]string {
	m := make(map[string]string, len(records))
	for _, r := range records {
		if k, v, ok := strings.Cut(r, "="); ok {
			m[k] = v
		}
	}
	return m
}
