package vacuum

const (
	dirtyVoltage uint8 = 1 << iota
	dirtyCurrent
	dirtyPressure
)

// Data is the telemetry record of one vacuum controller.
type Data struct {
	ID       byte
	Voltage  float64
	Current  float64
	Pressure string // as reported, e.g. "5.4E-09"

	dirty uint8
}

// Dirty reports whether any field changed since the last log flush.
func (d *Data) Dirty() bool { return d.dirty != 0 }

func (d *Data) setVoltage(v float64) {
	if d.Voltage != v {
		d.Voltage = v
		d.dirty |= dirtyVoltage
	}
}

func (d *Data) setCurrent(v float64) {
	if d.Current != v {
		d.Current = v
		d.dirty |= dirtyCurrent
	}
}

func (d *Data) setPressure(p string) {
	if d.Pressure != p {
		d.Pressure = p
		d.dirty |= dirtyPressure
	}
}
