package capture

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"

	"droneaid/internal/logger"
	"droneaid/internal/model"

	"github.com/benbjohnson/clock"
)

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

// UDPSource listens for a drone's MJPEG stream sent as UDP datagrams and
// reassembles complete JPEG frames. Read always returns the newest frame.
type UDPSource struct {
	addr   string
	clock  clock.Clock
	logger *logger.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	latest model.Frame
	seq    uint64
	wg     sync.WaitGroup
}

func NewUDPSource(addr string, clk clock.Clock, logger *logger.Logger) *UDPSource {
	if clk == nil {
		clk = clock.New()
	}
	return &UDPSource{addr: addr, clock: clk, logger: logger}
}

func (u *UDPSource) Open() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn != nil {
		return nil
	}
	addr, err := net.ResolveUDPAddr("udp", u.addr)
	if err != nil {
		return fmt.Errorf("resolving stream address %s: %w", u.addr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listening for stream on %s: %w", u.addr, err)
	}

	u.conn = conn
	u.latest = model.Frame{}
	u.wg.Add(1)
	go u.receive(conn)

	u.logger.Info("UDP video stream listening on %s", conn.LocalAddr())
	return nil
}

// LocalAddr is the bound address, useful when listening on port 0.
func (u *UDPSource) LocalAddr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

func (u *UDPSource) receive(conn *net.UDPConn) {
	defer u.wg.Done()

	packet := make([]byte, 65535)
	var frame bytes.Buffer
	for {
		n, _, err := conn.ReadFromUDP(packet)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			u.logger.Error("Error reading UDP packet: %v", err)
			continue
		}

		data := packet[:n]
		if bytes.HasPrefix(data, jpegHeader) {
			frame.Reset()
		}
		frame.Write(data)

		if bytes.HasSuffix(data, jpegFooter) {
			full := make([]byte, frame.Len())
			copy(full, frame.Bytes())
			frame.Reset()

			u.mu.Lock()
			u.seq++
			u.latest = model.Frame{
				Data:       full,
				Source:     model.SourceLive,
				Name:       fmt.Sprintf("stream-%06d.jpg", u.seq),
				CapturedAt: u.clock.Now(),
			}
			u.mu.Unlock()
		}
	}
}

func (u *UDPSource) Read() (model.Frame, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.latest.Data == nil {
		return model.Frame{}, ErrNoFrame
	}
	return u.latest, nil
}

func (u *UDPSource) Close() error {
	u.mu.Lock()
	conn := u.conn
	u.conn = nil
	u.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	u.wg.Wait()
	return err
}
