// Package pmic provides byte-wide register access to a power-management chip
// on an I2C bus.
package pmic

import (
	"fmt"
	"sync"

	"tinygo.org/x/drivers"
)

// Port reads and writes single PMIC registers at one bus address.
//
// Register addresses are sent as one byte unless the port was created with
// WithWideAddress, in which case they are sent big-endian in two bytes.
type Port struct {
	bus  drivers.I2C
	addr uint16
	wide bool

	mu sync.Mutex
	w  [3]byte
	r  [1]byte
}

type PortOption func(*Port)

// WithWideAddress selects 16-bit register addressing.
func WithWideAddress() PortOption {
	return func(p *Port) { p.wide = true }
}

func NewPort(bus drivers.I2C, addr uint16, opts ...PortOption) (*Port, error) {
	if bus == nil {
		return nil, fmt.Errorf("pmic: bus is nil")
	}
	if addr == 0 || addr > 0x7F {
		return nil, fmt.Errorf("pmic: invalid i2c addr 0x%X", addr)
	}
	p := &Port{bus: bus, addr: addr}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Port) Addr() uint16 { return p.addr }

func (p *Port) ReadRegister(reg uint16) (byte, error) {
	if err := p.checkReg(reg); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.putReg(reg)
	if err := p.bus.Tx(p.addr, p.w[:n], p.r[:]); err != nil {
		return 0, fmt.Errorf("pmic: read reg 0x%02X: %w", reg, err)
	}
	return p.r[0], nil
}

func (p *Port) WriteRegister(reg uint16, v byte) error {
	if err := p.checkReg(reg); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.putReg(reg)
	p.w[n] = v
	if err := p.bus.Tx(p.addr, p.w[:n+1], nil); err != nil {
		return fmt.Errorf("pmic: write reg 0x%02X=0x%02X: %w", reg, v, err)
	}
	return nil
}

func (p *Port) checkReg(reg uint16) error {
	if !p.wide && reg > 0xFF {
		return fmt.Errorf("pmic: reg 0x%X needs wide addressing", reg)
	}
	return nil
}

func (p *Port) putReg(reg uint16) int {
	if p.wide {
		p.w[0] = byte(reg >> 8)
		p.w[1] = byte(reg)
		return 2
	}
	p.w[0] = byte(reg)
	return 1
}
