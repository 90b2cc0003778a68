package board

// PowerGate switches the vibrator driver supply through a GPIO enable line.
// Resume drives it high and Suspend drives it low.
type PowerGate struct {
	out *lineOutput
}

func NewPowerGate(lineName string) (*PowerGate, error) {
	out, err := openOutput(lineName, "pmicvib-power")
	if err != nil {
		return nil, err
	}
	return &PowerGate{out: out}, nil
}

func (p *PowerGate) Resume() error {
	_, err := p.out.set(1)
	return err
}

func (p *PowerGate) Suspend() error {
	_, err := p.out.set(0)
	return err
}

// Enabled reports whether the gate is currently driven high.
func (p *PowerGate) Enabled() bool { return p.out.get() == 1 }

func (p *PowerGate) Close() error { return p.out.close() }
