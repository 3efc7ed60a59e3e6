//go:build windows

package notify

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/windows"
)

func listenBroadcast(addr string) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var serr error
			err := c.Control(func(fd uintptr) {
				h := windows.Handle(fd)
				if serr = windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_BROADCAST, 1); serr != nil {
					return
				}
				serr = windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return serr
		},
	}
	return lc.ListenPacket(context.Background(), "udp4", addr)
}
