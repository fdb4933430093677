// Package simulator is an in-process Danfoss Air unit. It answers the
// 63-byte frame protocol over TCP from a register bank whose live values
// drift slowly, and applies write frames to the bank.
package simulator

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/petero-dk/danfoss-air-api/internal/dfair"
)

type regKey struct {
	endpoint byte
	addr     uint16
}

// Device simulates the unit's CCM.
type Device struct {
	mu    sync.Mutex
	regs  map[regKey]uint32
	types map[regKey]dfair.Datatype
	t     float64 // virtual time, advanced per request

	log zerolog.Logger

	connMu sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// seed holds plausible raw register contents keyed by parameter id.
var seed = map[string]uint32{
	"humidity_measured_relative":  115,
	"fanspeed_supply_actual":      1450,
	"fanspeed_extract_actual":     1420,
	"total_running_minutes":       1234567,
	"battery_indication_percent":  230,
	"filter_remaining":            180,
	"temperature_room":            2150,
	"temperature_room_calc":       2140,
	"automatic_bypass":            1,
	"fan_step":                    4,
	"temperature_outdoor":         850,
	"temperature_supply":          1900,
	"temperature_extract":         2200,
	"temperature_exhaust":         1100,
	"unit_hardware_revision":      0x0102,
	"unit_software_revision":      0x0215,
	"unit_serialnumber_high_word": 0x0012,
	"unit_serialnumber_low_word":  0x3456,
}

// New returns a device whose register bank is laid out after the default
// parameter catalog.
func New(log zerolog.Logger) *Device {
	d := &Device{
		regs:  make(map[regKey]uint32),
		types: make(map[regKey]dfair.Datatype),
		log:   log.With().Str("component", "simulator").Logger(),
		conns: make(map[net.Conn]struct{}),
	}
	for _, p := range dfair.DefaultParams() {
		k := regKey{p.Endpoint, p.Address}
		d.types[k] = p.Datatype
		d.regs[k] = seed[p.ID]
	}
	return d
}

// Register returns the raw content of a register.
func (d *Device) Register(endpoint byte, addr uint16) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[regKey{endpoint, addr}]
}

// SetRegister overwrites the raw content of a register.
func (d *Device) SetRegister(endpoint byte, addr uint16, raw uint32) {
	d.mu.Lock()
	d.regs[regKey{endpoint, addr}] = raw
	d.mu.Unlock()
}

// Listen opens a TCP listener on addr and serves it in the background.
func (d *Device) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	d.connMu.Lock()
	d.ln = ln
	d.connMu.Unlock()
	go d.Serve(ln)
	return ln.Addr(), nil
}

// Serve accepts connections on ln until Close is called.
func (d *Device) Serve(ln net.Listener) error {
	d.connMu.Lock()
	if d.closed {
		d.connMu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	d.ln = ln
	d.connMu.Unlock()

	d.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !d.track(c) {
			c.Close()
			return nil
		}
		go d.handle(c)
	}
}

// Close stops the listener, drops open connections and waits for handlers.
func (d *Device) Close() error {
	d.connMu.Lock()
	d.closed = true
	var err error
	if d.ln != nil {
		err = d.ln.Close()
	}
	for c := range d.conns {
		c.Close()
	}
	d.connMu.Unlock()
	d.wg.Wait()
	return err
}

// track registers c with the handler wait group under connMu, so Close never
// waits before a tracked handler is counted.
func (d *Device) track(c net.Conn) bool {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	if d.closed {
		return false
	}
	d.conns[c] = struct{}{}
	d.wg.Add(1)
	return true
}

func (d *Device) untrack(c net.Conn) {
	d.connMu.Lock()
	delete(d.conns, c)
	d.connMu.Unlock()
}

func (d *Device) handle(c net.Conn) {
	defer d.wg.Done()
	defer d.untrack(c)
	defer c.Close()

	d.log.Debug().Str("remote", c.RemoteAddr().String()).Msg("client connected")
	frame := make([]byte, dfair.FrameSize)
	for {
		if _, err := io.ReadFull(c, frame); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				d.log.Debug().Err(err).Msg("read frame")
			}
			return
		}
		resp := d.Process(frame)
		if resp == nil {
			continue
		}
		if _, err := c.Write(resp); err != nil {
			d.log.Debug().Err(err).Msg("write response")
			return
		}
	}
}

// Process handles one request frame and returns the response, or nil when
// the request gets no answer.
func (d *Device) Process(frame []byte) []byte {
	if len(frame) < 4 {
		return nil
	}
	k := regKey{frame[0], binary.BigEndian.Uint16(frame[2:4])}

	d.mu.Lock()
	defer d.mu.Unlock()
	dt, ok := d.types[k]
	if !ok {
		dt = dfair.DatatypeUInt
	}

	switch frame[1] {
	case dfair.OpRead:
		d.tick()
		resp := make([]byte, dfair.FrameSize)
		putRaw(resp, dt, d.regs[k])
		d.log.Debug().Uint8("endpoint", k.endpoint).Uint16("address", k.addr).Uint32("raw", d.regs[k]).Msg("read")
		return resp
	case dfair.OpWrite:
		raw := getRaw(frame[4:], dt)
		d.regs[k] = raw
		d.log.Info().Uint8("endpoint", k.endpoint).Uint16("address", k.addr).Uint32("raw", raw).Msg("write applied")
		return nil
	}
	d.log.Warn().Uint8("opcode", frame[1]).Msg("unknown opcode")
	return nil
}

func putRaw(buf []byte, dt dfair.Datatype, raw uint32) {
	switch dt {
	case dfair.DatatypeByte, dfair.DatatypeBool:
		buf[0] = byte(raw)
	case dfair.DatatypeUShort:
		binary.BigEndian.PutUint16(buf, uint16(raw))
	default:
		binary.BigEndian.PutUint32(buf, raw)
	}
}

func getRaw(buf []byte, dt dfair.Datatype) uint32 {
	switch dt {
	case dfair.DatatypeByte, dfair.DatatypeBool:
		return uint32(buf[0])
	case dfair.DatatypeUShort:
		return uint32(binary.BigEndian.Uint16(buf))
	}
	return binary.BigEndian.Uint32(buf)
}

// tick drifts the live readings. Caller holds d.mu.
func (d *Device) tick() {
	d.t += 0.05
	set := func(ep byte, addr uint16, v float64) {
		if v < 0 {
			v = 0
		}
		d.regs[regKey{ep, addr}] = uint32(v)
	}

	// Fans follow the fan step, boost pins them near maximum.
	step := float64(d.regs[regKey{dfair.EndpointCCM, 0x1561}])
	rpm := 300 + step*150
	if d.regs[regKey{dfair.EndpointCCM, 5424}] == 1 {
		rpm = 2400
	}
	set(dfair.EndpointUnit, 5200, rpm+rand.Float64()*20)
	set(dfair.EndpointUnit, 5201, rpm-30+rand.Float64()*20)

	outdoor := 850 + 400*math.Sin(d.t*0.02)
	set(dfair.EndpointUnit, 0x1472, outdoor+rand.Float64()*10)
	set(dfair.EndpointUnit, 0x1473, 1900+0.2*(outdoor-850)+rand.Float64()*10)
	set(dfair.EndpointUnit, 0x1474, 2200+rand.Float64()*15)
	set(dfair.EndpointUnit, 0x1475, 1100+0.6*(outdoor-850)+rand.Float64()*10)
	set(dfair.EndpointCCM, 0x0300, 2150+50*math.Sin(d.t*0.05))
	set(dfair.EndpointCalc, 0x1496, 2140+50*math.Sin(d.t*0.05))
	set(dfair.EndpointUnit, 5232, 115+15*math.Sin(d.t*0.03))

	d.regs[regKey{dfair.EndpointUnit, 992}]++
}
