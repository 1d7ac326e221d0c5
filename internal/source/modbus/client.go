package modbus

import (
	"time"

	"github.com/goburrow/modbus"
)

// Client is the register access the source needs.
type Client interface {
	ReadHoldingRegisters(addr, qty uint16) ([]uint16, error)
	Close() error
}

// Dialer connects a Client.
type Dialer func() (Client, error)

type tcpClient struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// TCPDialer connects to a Modbus TCP endpoint (host:port).
func TCPDialer(endpoint string, unitID uint8, timeout time.Duration) Dialer {
	return func() (Client, error) {
		h := modbus.NewTCPClientHandler(endpoint)
		h.Timeout = timeout
		h.SlaveId = unitID

		if err := h.Connect(); err != nil {
			return nil, err
		}

		return &tcpClient{
			handler: h,
			client:  modbus.NewClient(h),
		}, nil
	}
}

func (c *tcpClient) ReadHoldingRegisters(addr, qty uint16) ([]uint16, error) {
	raw, err := c.client.ReadHoldingRegisters(addr, qty)
	if err != nil {
		return nil, err
	}
	return unpackRegisters(raw), nil
}

func (c *tcpClient) Close() error {
	return c.handler.Close()
}

func unpackRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}
