package ad7124

import (
	"errors"
	"math/rand"
	"sync"
)

// SimID is the identification byte reported by Sim.
const SimID = 0x14

const numAddrs = int(AddrGain0) + NumSetups

// Sim simulates an AD7124-8 at register level behind the Bus interface.
// Analog inputs are plain voltages against AVSS; conversions honor the
// channel, setup and PGA registers so the driver can be exercised end to end
// without hardware.
type Sim struct {
	mu sync.Mutex

	regs   [numAddrs]uint32
	inputs [NumChannels]float64
	noise  float64
	rng    *rand.Rand

	porPolls int // status reads reporting power-on reset after a reset
	porLeft  int
	busyLeft int // error reads reporting SPI ignore
	corrupt  int // reads returning a bad checksum
	failNext error

	ready   bool
	active  uint8
	queue   []uint8 // channels left in a single conversion sequence
	next    int     // round robin position in continuous mode
	last    uint32  // last data register value
	resets  int
	writes  map[byte]int
	history []OperatingMode
}

// Ensure Sim implements Bus.
var _ Bus = (*Sim)(nil)

// NewSim creates a simulated device in its power-on state.
func NewSim() *Sim {
	s := &Sim{
		porPolls: 2,
		rng:      rand.New(rand.NewSource(1)),
		writes:   make(map[byte]int),
	}
	s.powerOn()
	return s
}

// SetInput sets the voltage present on an analog input pin.
func (s *Sim) SetInput(ain Ain, volts float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(ain) < NumChannels {
		s.inputs[ain] = volts
	}
}

// SetNoise adds gaussian noise with the given standard deviation in volts.
func (s *Sim) SetNoise(sigma float64, seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noise = sigma
	s.rng = rand.New(rand.NewSource(seed))
}

// SetPowerOnPolls sets how many status reads report power-on reset after a
// reset.
func (s *Sim) SetPowerOnPolls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.porPolls = n
}

// SetBusy makes the next n error register reads report SPI ignore.
func (s *Sim) SetBusy(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busyLeft = n
}

// CorruptReads makes the next n CRC protected reads return a bad checksum.
func (s *Sim) CorruptReads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt = n
}

// FailNext makes the next transfer fail with err.
func (s *Sim) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Register returns the raw content of a register.
func (s *Sim) Register(addr byte) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[addr]
}

// Mode returns the current operating mode.
func (s *Sim) Mode() OperatingMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return AdcControl(s.regs[AddrAdcControl]).Mode()
}

// Modes returns the sequence of operating modes written to the device.
func (s *Sim) Modes() []OperatingMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OperatingMode(nil), s.history...)
}

// Writes returns how many successful writes addr received.
func (s *Sim) Writes(addr byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[addr]
}

// Resets returns how many reset sequences were received.
func (s *Sim) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Tx implements Bus.
func (s *Sim) Tx(w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}
	if len(w) == 0 {
		return nil
	}
	if isReset(w) {
		s.resets++
		s.powerOn()
		return nil
	}

	cmd := w[0]
	addr := cmd & 0x3F
	if int(addr) >= numAddrs {
		return errors.New("sim: address out of range")
	}
	size := s.size(addr)
	crc := ErrorEnable(s.regs[AddrErrorEnable]).Has(ErrEnSpiCrc)

	if cmd&commRead != 0 {
		if len(r) < 1+size {
			return errors.New("sim: short read buffer")
		}
		payload := encodeBE(s.read(addr), size)
		copy(r[1:], payload)
		if crc && len(r) > 1+size {
			sum := Checksum([]byte{cmd}, payload)
			if s.corrupt > 0 {
				s.corrupt--
				sum ^= 0x5A
			}
			r[1+size] = sum
		}
		return nil
	}

	if len(w) < 1+size {
		return errors.New("sim: short write frame")
	}
	if crc && (len(w) < 2+size || Checksum(w[:2+size]) != 0) {
		s.regs[AddrError] = uint32(Error(s.regs[AddrError]).With(ErrSpiCrc, true))
		return nil
	}
	s.write(addr, decodeBE(w[1:1+size], size))
	return nil
}

func isReset(w []byte) bool {
	if len(w) < len(ResetCommand) {
		return false
	}
	for _, b := range w {
		if b != 0xFF {
			return false
		}
	}
	return true
}

func (s *Sim) powerOn() {
	st := PowerOnState()
	s.regs = [numAddrs]uint32{}
	s.regs[AddrID] = SimID
	s.regs[AddrErrorEnable] = uint32(st.ErrorEnable)
	for i, c := range st.Channels {
		s.regs[int(AddrChannel0)+i] = uint32(c)
	}
	for i := range NumSetups {
		s.regs[int(AddrConfig0)+i] = uint32(st.Configs[i])
		s.regs[int(AddrFilter0)+i] = uint32(st.Filters[i])
		s.regs[int(AddrOffset0)+i] = uint32(st.Offsets[i])
		s.regs[int(AddrGain0)+i] = 0x500000 + uint32(i)
	}
	s.porLeft = s.porPolls
	s.ready = false
	s.queue = nil
	s.next = 0
	s.active = 0
}

func (s *Sim) size(addr byte) int {
	switch {
	case addr == AddrStatus, addr == AddrID, addr == AddrMclkCount:
		return 1
	case addr == AddrAdcControl, addr == AddrIoControl2:
		return 2
	case addr == AddrData:
		if AdcControl(s.regs[AddrAdcControl]).DataStatus() {
			return SizeDataStatus
		}
		return SizeData
	case addr >= AddrChannel0 && addr < AddrFilter0:
		return 2
	}
	return 3
}

func (s *Sim) mode() OperatingMode { return AdcControl(s.regs[AddrAdcControl]).Mode() }

func (s *Sim) converting() bool {
	m := s.mode()
	return m == ModeContinuous || (m == ModeSingle && len(s.queue) > 0)
}

func (s *Sim) status(rdy bool) Status {
	return Status(0).
		WithRdy(rdy).
		WithErrorFlag(s.regs[AddrError] != 0).
		WithActiveChannel(s.active)
}

func (s *Sim) read(addr byte) uint32 {
	switch addr {
	case AddrStatus:
		if s.porLeft > 0 {
			s.porLeft--
			return uint32(s.status(true).WithPowerOnReset(true))
		}
		if !s.ready && s.converting() {
			// The conversion completes after this poll.
			s.ready = true
			return uint32(s.status(true))
		}
		return uint32(s.status(!s.ready))
	case AddrData:
		if s.ready {
			s.convert()
		}
		if AdcControl(s.regs[AddrAdcControl]).DataStatus() {
			return s.last
		}
		return s.last >> 8
	case AddrError:
		e := Error(s.regs[AddrError])
		if s.busyLeft > 0 {
			s.busyLeft--
			e = e.With(ErrSpiIgnore, true)
		}
		return uint32(e)
	}
	return s.regs[addr]
}

func (s *Sim) write(addr byte, v uint32) {
	switch {
	case addr == AddrStatus, addr == AddrData, addr == AddrID, addr == AddrError:
		return
	case addr == AddrAdcControl:
		s.regs[addr] = v & adcControlMask
		s.history = append(s.history, s.mode())
		s.ready = false
		s.queue = nil
		switch s.mode() {
		case ModeSingle:
			s.queue = s.enabled()
			if len(s.queue) == 0 {
				s.setMode(ModeStandby)
			}
		case ModeContinuous:
			s.next = 0
		}
	case addr == AddrErrorEnable:
		s.regs[addr] = v & errorEnableMask
	case addr >= AddrChannel0 && addr < AddrConfig0:
		s.regs[addr] = v & channelMask
	case addr >= AddrConfig0 && addr < AddrFilter0:
		s.regs[addr] = v & configurationMask
	case addr >= AddrFilter0 && addr < AddrOffset0:
		s.regs[addr] = v & filterMask
	default:
		s.regs[addr] = v
	}
	s.writes[addr]++
}

func (s *Sim) setMode(m OperatingMode) {
	s.regs[AddrAdcControl] = uint32(AdcControl(s.regs[AddrAdcControl]).WithMode(m))
}

func (s *Sim) enabled() []uint8 {
	var out []uint8
	for i := range NumChannels {
		if Channel(s.regs[int(AddrChannel0)+i]).Enable() {
			out = append(out, uint8(i))
		}
	}
	return out
}

// convert latches the pending conversion into the data register and selects
// the next channel.
func (s *Sim) convert() {
	s.ready = false
	var ch uint8
	switch s.mode() {
	case ModeSingle:
		if len(s.queue) == 0 {
			return
		}
		ch, s.queue = s.queue[0], s.queue[1:]
		if len(s.queue) == 0 {
			s.setMode(ModeStandby)
		}
	case ModeContinuous:
		en := s.enabled()
		if len(en) == 0 {
			return
		}
		ch = en[s.next%len(en)]
		s.next++
	default:
		return
	}
	s.active = ch

	c := Channel(s.regs[int(AddrChannel0)+int(ch)])
	cfg := Configuration(s.regs[int(AddrConfig0)+int(c.Setup())])
	v := s.input(c.AinP()) - s.input(c.AinM())
	if s.noise > 0 {
		v += s.rng.NormFloat64() * s.noise
	}
	s.last = Code(v, cfg)<<8 | uint32(s.status(false))
}

func (s *Sim) input(a Ain) float64 {
	if int(a) < NumChannels {
		return s.inputs[a]
	}
	return 0
}
