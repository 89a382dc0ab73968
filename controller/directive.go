package controller

// Directive is one encoded request waiting for, or being, transmitted.
type Directive struct {
	DeviceID byte
	FuncID   byte
	Frame    []byte
}

// Len returns the length of the encoded frame.
func (d *Directive) Len() int {
	return len(d.Frame)
}
