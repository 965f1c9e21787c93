// Package transport builds the multicast sockets the wire protocol
// rides on (spec.md section 4.10). Socket setup — SO_REUSEADDR/
// SO_REUSEPORT via a net.ListenConfig.Control callback, group join via
// golang.org/x/net/ipv4, a 1MB read buffer — follows the teacher's
// audio.go setupDataSocket almost line for line, generalized from
// ka9q-radio's configurable group to Wi-Fi Party's fixed addresses and
// extended with the IPv6 path audio.go never needed.
package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/charmbracelet/log"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/wifiparty/core/internal/wire"
)

// DSCP EF (Expedited Forwarding), spec.md section 4.10.
const dscpEF = 46 << 2 // TOS/traffic-class field shifts DSCP left by 2.

// Group is one joined multicast group, usable for both send and
// receive (spec.md section 9's Open Question: "a single socket is used
// for both send and receive per group").
type Group struct {
	conn   *net.UDPConn
	addr   *net.UDPAddr
	logger *log.Logger
	selfID wire.HostID
	isIPv6 bool
}

// Config describes one group to join.
type Config struct {
	Addr      string // e.g. "239.255.43.2:7667" or "[ff02::7667:7667]:7667"
	TTL       int
	Interface string // empty = all interfaces
	SelfID    wire.HostID
}

func setSockOpts(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			sockErr = fmt.Errorf("SO_REUSEPORT: %w", err)
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			sockErr = fmt.Errorf("SO_REUSEADDR: %w", err)
			return
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Join binds, joins, and configures one multicast group per spec.md
// section 4.10's socket construction rules.
func Join(cfg Config, logger *log.Logger) (*Group, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", cfg.Addr, err)
	}
	isIPv6 := addr.IP.To4() == nil

	var iface *net.Interface
	if cfg.Interface != "" {
		iface, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("transport: interface %s: %w", cfg.Interface, err)
		}
	}

	network := "udp4"
	if isIPv6 {
		network = "udp6"
	}

	lc := net.ListenConfig{Control: setSockOpts}
	pc, err := lc.ListenPacket(context.Background(), network, addr.String())
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr.String(), err)
	}
	udpConn := pc.(*net.UDPConn)
	if err := udpConn.SetReadBuffer(1024 * 1024); err != nil {
		logger.Warn("failed to set read buffer size", "err", err)
	}

	g := &Group{conn: udpConn, addr: addr, logger: logger, selfID: cfg.SelfID, isIPv6: isIPv6}

	if isIPv6 {
		p := ipv6.NewPacketConn(udpConn)
		if err := p.JoinGroup(iface, addr); err != nil {
			logger.Warn("failed to join ipv6 multicast group", "err", err)
		}
		if err := p.SetMulticastHopLimit(cfg.TTL); err != nil {
			logger.Warn("failed to set hop limit", "err", err)
		}
		if err := p.SetTrafficClass(dscpEF); err != nil {
			logger.Warn("failed to set traffic class (DSCP)", "err", err)
		}
	} else {
		p := ipv4.NewPacketConn(udpConn)
		if err := p.JoinGroup(iface, addr); err != nil {
			logger.Warn("failed to join ipv4 multicast group", "err", err)
		}
		if err := p.SetMulticastTTL(cfg.TTL); err != nil {
			logger.Warn("failed to set multicast TTL", "err", err)
		}
		if err := p.SetTOS(dscpEF); err != nil {
			logger.Warn("failed to set TOS (DSCP)", "err", err)
		}
	}

	return g, nil
}

// Conn exposes the underlying socket for the dispatcher's recv loop.
func (g *Group) Conn() *net.UDPConn { return g.conn }

// Send writes a wire packet to the group. Transient failures are the
// caller's to count via metrics.SendTransient; Send itself never
// treats a sendto error as fatal (spec.md section 4.10).
func (g *Group) Send(b []byte) error {
	_, err := g.conn.WriteToUDP(b, g.addr)
	return err
}

// Close releases the socket.
func (g *Group) Close() error { return g.conn.Close() }

// IsSelf reports whether host matches the local identity this Group
// was configured with, for realtime loopback-echo de-duplication
// (spec.md section 4.10: only realtime packets are dropped this way).
func (g *Group) IsSelf(host wire.HostID) bool {
	return host == g.selfID
}
