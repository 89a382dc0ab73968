package cooler

const (
	dirtyVoltage uint8 = 1 << iota
	dirtyCurrent
	dirtyHotEnd
	dirtyCoolGet
	dirtyCoolSet
)

// Data is the telemetry record of one cooler controller.
type Data struct {
	ID      byte
	Voltage float64
	Current float64
	HotEnd  float64
	CoolGet float64 // detector temperature
	CoolSet float64 // detector setpoint

	dirty uint8
}

// Dirty reports whether any field changed since the last log flush.
func (d *Data) Dirty() bool { return d.dirty != 0 }

func (d *Data) setVoltage(v float64) { d.set(&d.Voltage, v, dirtyVoltage) }
func (d *Data) setCurrent(v float64) { d.set(&d.Current, v, dirtyCurrent) }
func (d *Data) setHotEnd(v float64)  { d.set(&d.HotEnd, v, dirtyHotEnd) }
func (d *Data) setCoolGet(v float64) { d.set(&d.CoolGet, v, dirtyCoolGet) }
func (d *Data) setCoolSet(v float64) { d.set(&d.CoolSet, v, dirtyCoolSet) }

func (d *Data) set(field *float64, v float64, bit uint8) {
	if *field != v {
		*field = v
		d.dirty |= bit
	}
}
