//go:build !linux

package i2c

import "fmt"

type Bus struct{}

func Open(path string) (*Bus, error) { return nil, fmt.Errorf("i2c: unsupported OS (need linux)") }

func OpenIndex(n int) (*Bus, error) { return Open("") }

func (b *Bus) Path() string { return "" }

func (b *Bus) Close() error { return nil }

func (b *Bus) Tx(addr uint16, w, r []byte) error { return fmt.Errorf("i2c: unsupported OS") }
