//go:build linux

package board

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// openLine finds the named line on any GPIO character device and requests it
// as an output driven low.
func openLine(name, consumer string) (outputLine, error) {
	chipCandidates := []string{"/dev/gpiochip0"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		n := e.Name()
		if strings.HasPrefix(n, "gpiochip") && n != "gpiochip0" {
			chipCandidates = append(chipCandidates, filepath.Join("/dev", n))
		}
	}

	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(name)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(consumer))
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &gpiodLine{chip: chip, line: line}, nil
	}
	return nil, fmt.Errorf("board: gpio line %q not found (or busy)", name)
}

type gpiodLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (g *gpiodLine) SetValue(v int) error { return g.line.SetValue(v) }

func (g *gpiodLine) Close() error {
	err := g.line.Close()
	_ = g.chip.Close()
	return err
}
