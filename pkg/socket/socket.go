package socket

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

func Addr(x *net.UDPAddr) unix.Sockaddr {
	if ip4 := x.IP.To4(); ip4 != nil {
		res := &unix.SockaddrInet4{
			Port: x.Port,
		}
		copy(res.Addr[:], ip4)
		return res
	}
	res := &unix.SockaddrInet6{
		Port: x.Port,
	}
	copy(res.Addr[:], x.IP.To16())
	return res
}

func AddrToString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(v.Addr[:])
		return fmt.Sprintf("%s:%d", ip, v.Port)
	case *unix.SockaddrInet6:
		ip := net.IP(v.Addr[:])
		return fmt.Sprintf("[%s]:%d", ip, v.Port)
	case *unix.SockaddrUnix:
		return v.Name
	case nil:
		return "<nil>"
	default:
		panic(fmt.Errorf("unsupported address type %T", v))
	}
}

// Open creates an unconnected datagram socket able to reach x. The socket is left
// unconnected so ICMP port-unreachable errors do not surface as ECONNREFUSED on reads.
func Open(x *net.UDPAddr) (int, error) {
	family := unix.AF_INET6
	if x.IP.To4() != nil {
		family = unix.AF_INET
	}
	fd, err := unix.Socket(family, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	return fd, nil
}

// SetRecvTimeout bounds how long a blocking receive waits; an expired wait returns EAGAIN.
func SetRecvTimeout(fd int, d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fmt.Errorf("setsockopt SO_RCVTIMEO: %w", err)
	}
	return nil
}
