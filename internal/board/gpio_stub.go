//go:build !linux

package board

import "fmt"

func openLine(name, consumer string) (outputLine, error) {
	return nil, fmt.Errorf("board: gpio line %q unsupported on this platform", name)
}
