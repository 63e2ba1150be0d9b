package connector

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// Direct dials the target host directly, with no intermediate proxy.
type Direct struct {
	Dialer *net.Dialer
}

// NewDirect returns a Direct connector using a default dialer.
func NewDirect() *Direct {
	return &Direct{Dialer: &net.Dialer{}}
}

func (d *Direct) Connect(ctx context.Context, host string, port uint16) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	dialer := d.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return nil, fmt.Errorf("connector: dial %s:%d: %w", host, port, err)
	}
	return conn, nil
}
