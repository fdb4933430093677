package dfair

import (
	"fmt"
	"sync"
	"time"
)

// Datatype is the wire representation of a parameter's register.
type Datatype uint8

const (
	DatatypeByte   Datatype = iota // unsigned 8-bit
	DatatypeBool                   // 1 byte, 1 == true
	DatatypeUShort                 // big-endian 16-bit
	DatatypeUInt                   // big-endian 32-bit
	DatatypeString                 // reserved, not implemented by the codec
)

func (d Datatype) String() string {
	switch d {
	case DatatypeByte:
		return "byte"
	case DatatypeBool:
		return "bool"
	case DatatypeUShort:
		return "ushort"
	case DatatypeUInt:
		return "uint"
	case DatatypeString:
		return "string"
	}
	return fmt.Sprintf("datatype(%d)", uint8(d))
}

// MarshalText encodes the datatype by name.
func (d Datatype) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText accepts the names produced by MarshalText.
func (d *Datatype) UnmarshalText(b []byte) error {
	for _, c := range []Datatype{DatatypeByte, DatatypeBool, DatatypeUShort, DatatypeUInt, DatatypeString} {
		if c.String() == string(b) {
			*d = c
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrDatatypeUnsupported, b)
}

// Size returns the number of payload bytes the datatype occupies on the wire,
// or 0 for datatypes the codec cannot handle.
func (d Datatype) Size() int {
	switch d {
	case DatatypeByte, DatatypeBool:
		return 1
	case DatatypeUShort:
		return 2
	case DatatypeUInt:
		return 4
	}
	return 0
}

const (
	// NoRounding disables precision rounding for a parameter.
	NoRounding = -1
	// IntervalDefault marks a parameter without a declared interval; it is
	// polled on every pass.
	IntervalDefault = -1
)

// Param describes one device parameter and carries its last known value.
type Param struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Unit     string   `json:"unit"`
	Endpoint byte     `json:"endpoint"`
	Address  uint16   `json:"address"`
	Datatype Datatype `json:"datatype"`
	Scale    float64  `json:"scale"`
	// Precision is the number of decimals kept after scaling, or NoRounding.
	Precision int `json:"precision"`
	// Interval is the poll interval in seconds. 0 means read once and treat
	// as static; IntervalDefault means every pass.
	Interval int  `json:"interval"`
	Writable bool `json:"writable"`

	Value          Value     `json:"value"`
	ValueTimestamp time.Time `json:"valueTimestamp"`
}

// Static reports whether the parameter is read at most once.
func (p Param) Static() bool { return p.Interval == 0 }

// Reading is the flattened view of a parameter handed to callbacks.
type Reading struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Unit  string `json:"unit"`
	Value Value  `json:"value"`
}

func (p Param) reading() Reading {
	return Reading{ID: p.ID, Name: p.Name, Unit: p.Unit, Value: p.Value}
}

// writableIDs lists the parameters known to accept the write opcode.
var writableIDs = map[string]bool{
	"boost":            true,
	"bypass":           true,
	"automatic_bypass": true,
	"operation_mode":   true,
	"fan_step":         true,
}

// Catalog is the ordered, fixed-shape set of parameters. Values and
// timestamps are mutable and guarded by the catalog's lock.
type Catalog struct {
	mu     sync.RWMutex
	params []Param
	index  map[string]int
}

// NewCatalog builds a catalog from definitions. Writability is taken from the
// allow-list, every value starts as the never-read sentinel.
func NewCatalog(defs []Param) *Catalog {
	c := &Catalog{
		params: make([]Param, len(defs)),
		index:  make(map[string]int, len(defs)),
	}
	for i, d := range defs {
		d.Writable = writableIDs[d.ID]
		d.Value = Unread()
		d.ValueTimestamp = time.Time{}
		c.params[i] = d
		c.index[d.ID] = i
	}
	return c
}

// Get returns a copy of the parameter with the given id.
func (c *Catalog) Get(id string) (Param, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		return Param{}, fmt.Errorf("%w: %q", ErrParameterNotFound, id)
	}
	return c.params[i], nil
}

// IsWritable reports whether id names a parameter that accepts writes.
func (c *Catalog) IsWritable(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	return ok && c.params[i].Writable
}

// All returns copies of every parameter in catalog order.
func (c *Catalog) All() []Param {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Param, len(c.params))
	copy(out, c.params)
	return out
}

// Len returns the number of parameters.
func (c *Catalog) Len() int { return len(c.params) }

// Readings returns the flattened snapshot of every parameter in catalog order.
func (c *Catalog) Readings() []Reading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Reading, len(c.params))
	for i, p := range c.params {
		out[i] = p.reading()
	}
	return out
}

// SetInterval overrides the poll interval of a parameter. It must be called
// before the catalog is handed to an engine.
func (c *Catalog) SetInterval(id string, seconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrParameterNotFound, id)
	}
	c.params[i].Interval = seconds
	return nil
}

// Intervals returns the effective interval of every parameter: the declared
// interval, or defaultDelay when none is declared.
func (c *Catalog) Intervals(defaultDelay int) []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]int, 0, len(c.params))
	for _, p := range c.params {
		if p.Interval == IntervalDefault {
			out = append(out, defaultDelay)
			continue
		}
		out = append(out, p.Interval)
	}
	return out
}

// at returns a copy of the i-th parameter.
func (c *Catalog) at(i int) Param {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params[i]
}

// set stores a new value for the i-th parameter. Timestamps never move
// backwards.
func (c *Catalog) set(i int, v Value, at time.Time) Param {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := &c.params[i]
	p.Value = v
	if at.After(p.ValueTimestamp) {
		p.ValueTimestamp = at
	}
	return *p
}

func (c *Catalog) indexOf(id string) (int, bool) {
	i, ok := c.index[id]
	return i, ok
}
