package probe

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"

	"wifimon/internal/command"

	"github.com/jsimonetti/rtnetlink"
)

// RouteTable answers routing questions about one interface
type RouteTable interface {
	// HasDefaultRoute is true only for a default route bound to iface
	HasDefaultRoute(ctx context.Context, iface string) (bool, error)
	// IPv4 returns the first IPv4 address on iface, "" when none
	IPv4(ctx context.Context, iface string) (string, error)
}

// NetlinkRoutes dumps the kernel tables over rtnetlink
type NetlinkRoutes struct{}

func (NetlinkRoutes) HasDefaultRoute(ctx context.Context, iface string) (bool, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", iface, err)
	}

	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return false, fmt.Errorf("failed to dial rtnetlink: %w", err)
	}
	defer conn.Close()

	msgs, err := conn.Route.List()
	if err != nil {
		return false, fmt.Errorf("list routes: %w", err)
	}

	routes := make([]route, 0, len(msgs))
	for _, msg := range msgs {
		routes = append(routes, route{
			dst:      msg.Attributes.Dst,
			dstLen:   msg.DstLength,
			outIface: msg.Attributes.OutIface,
		})
	}
	return hasDefaultVia(routes, uint32(ifi.Index)), nil
}

func (NetlinkRoutes) IPv4(ctx context.Context, iface string) (string, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", iface, err)
	}

	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return "", fmt.Errorf("failed to dial rtnetlink: %w", err)
	}
	defer conn.Close()

	addrs, err := conn.Address.List()
	if err != nil {
		return "", fmt.Errorf("list addresses: %w", err)
	}
	for _, addr := range addrs {
		if addr.Index != uint32(ifi.Index) || addr.Attributes.Address == nil {
			continue
		}
		if v4 := addr.Attributes.Address.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", nil
}

type route struct {
	dst      net.IP
	dstLen   uint8
	outIface uint32
}

// hasDefaultVia reports a default route (no destination, 0.0.0.0/0) leaving through index
func hasDefaultVia(routes []route, index uint32) bool {
	for _, r := range routes {
		isDefault := r.dstLen == 0 && (r.dst == nil || r.dst.IsUnspecified())
		if isDefault && r.outIface == index {
			return true
		}
	}
	return false
}

// CommandRoutes uses the ip(8) utility
type CommandRoutes struct {
	Runner command.Runner
}

func (c CommandRoutes) HasDefaultRoute(ctx context.Context, iface string) (bool, error) {
	if !c.Runner.Available("ip") {
		return false, ErrUnavailable
	}
	res := c.Runner.Run(ctx, "ip", "route", "show", "default", "dev", iface)
	if !res.OK() {
		return false, nil
	}
	return strings.TrimSpace(res.Stdout) != "", nil
}

func (c CommandRoutes) IPv4(ctx context.Context, iface string) (string, error) {
	if !c.Runner.Available("ip") {
		return "", ErrUnavailable
	}
	res := c.Runner.Run(ctx, "ip", "-4", "addr", "show", "dev", iface)
	if !res.OK() {
		return "", fmt.Errorf("ip -4 addr show dev %s: %s", iface, strings.TrimSpace(res.Stderr))
	}
	return parseInet(res.Stdout), nil
}

func parseInet(out string) string {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == "inet" {
			addr, _, _ := strings.Cut(fields[1], "/")
			return addr
		}
	}
	return ""
}
