package server

import (
	"encoding/json"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
)

// parentEnv names the descriptor a supervising node process hands its
// children for IPC.
const parentEnv = "NODE_CHANNEL_FD"

// Parent sends newline-delimited JSON messages to a supervising process.
type Parent struct {
	mu sync.Mutex
	w  io.Writer
}

func NewParent(w io.Writer) *Parent { return &Parent{w: w} }

// ParentFromEnv opens the IPC channel when the process was started with one,
// and returns nil otherwise.
func ParentFromEnv() *Parent {
	v := os.Getenv(parentEnv)
	if v == "" {
		return nil
	}
	fd, err := strconv.Atoi(v)
	if err != nil || fd < 0 {
		return nil
	}
	return NewParent(os.NewFile(uintptr(fd), "ipc"))
}

// Send writes one message. A nil Parent drops it.
func (p *Parent) Send(msg any) error {
	if p == nil {
		return nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = p.w.Write(append(b, '\n'))
	return err
}

type readyMessage struct {
	Port int    `json:"port"`
	IP   string `json:"ip"`
}

type rebuildMessage struct {
	Rebuild bool `json:"rebuild"`
}

// LocalIPv4 returns the first non-loopback IPv4 address of the host, or
// 127.0.0.1 when there is none.
func LocalIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok || ipn.IP.IsLoopback() {
				continue
			}
			if v4 := ipn.IP.To4(); v4 != nil {
				return v4.String()
			}
		}
	}
	return "127.0.0.1"
}
