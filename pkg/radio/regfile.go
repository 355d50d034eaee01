package radio

import "sync"

// RegisterFile emulates the SX1276 register space for backends without real
// SPI access. It starts with the chip version set and everything else zero.
type RegisterFile struct {
	mu   sync.Mutex
	regs [128]uint8
}

func NewRegisterFile() *RegisterFile {
	rf := &RegisterFile{}
	rf.regs[RegVersion] = ChipVersion
	return rf
}

func (rf *RegisterFile) Read(addr uint8) uint8 {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.regs[addr&0x7f]
}

// Write stores value. RegIrqFlags is write-one-to-clear like the hardware and
// RegVersion is read-only.
func (rf *RegisterFile) Write(addr, value uint8) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	addr &= 0x7f
	switch addr {
	case RegVersion:
	case RegIrqFlags:
		rf.regs[addr] &^= value
	default:
		rf.regs[addr] = value
	}
}

// Raise sets IRQ flag bits, as the modem would.
func (rf *RegisterFile) Raise(flags uint8) {
	rf.mu.Lock()
	rf.regs[RegIrqFlags] |= flags
	rf.mu.Unlock()
}
