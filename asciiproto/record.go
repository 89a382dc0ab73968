package asciiproto

// Record type names carried in the first token of a line.
const (
	TypeCooler = "cooler"
	TypeVacuum = "vacuum"
)

// Record is a resolved telemetry line.
type Record interface {
	// ProtoType returns the line type, TypeCooler or TypeVacuum.
	ProtoType() string
	// Header returns the identity fields shared by every record.
	Header() *Base
}

// Base carries the identity fields common to all record types.
type Base struct {
	UTC     string // optional ISO timestamp; empty means not present
	GroupID string
	UnitID  string
	CamID   string
}

func (b *Base) Header() *Base { return b }

// Cooler is one cooler telemetry record.
type Cooler struct {
	Base
	Voltage float64
	Current float64
	HotEnd  float64
	CoolGet float64
	CoolSet float64
}

func (*Cooler) ProtoType() string { return TypeCooler }

// Vacuum is one vacuum telemetry record. Pressure is kept as the device reported it.
type Vacuum struct {
	Base
	Voltage  float64
	Current  float64
	Pressure string
}

func (*Vacuum) ProtoType() string { return TypeVacuum }

var (
	_ Record = (*Cooler)(nil)
	_ Record = (*Vacuum)(nil)
)
