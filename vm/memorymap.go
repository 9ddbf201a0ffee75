package vm

const addressSpaceSize = 0x1_0000

type region struct {
	device Device
	base   uint16
	end    int // exclusive; base + device.Len(), may reach addressSpaceSize
}

func (r *region) contains(addr uint16) bool {
	return int(addr) >= int(r.base) && int(addr) < r.end
}

// MemoryMap is an ordered set of (device, base) regions forming the single
// 16-bit address space. It starts with one RAM region spanning the whole
// space; additional devices (e.g. Screen) are layered on top and shadow RAM
// at the addresses they occupy.
type MemoryMap struct {
	regions []region
}

// NewMemoryMap builds a map with a full-width RAM region at base 0x0000.
func NewMemoryMap() *MemoryMap {
	mm := &MemoryMap{}
	ram := NewMemory(addressSpaceSize)
	// Base RAM region can never fail to register: it exactly spans the
	// address space.
	_ = mm.AddDevice(ram, 0x0000)
	return mm
}

// AddDevice registers a device at the given base address. Lookup later
// scans regions in reverse registration order, so a later-added device
// shadows anything beneath it, including the base RAM region.
func (mm *MemoryMap) AddDevice(d Device, base uint16) error {
	end := int(base) + d.Len()
	if end > addressSpaceSize {
		return &UnaddressableRegion{End: end}
	}
	mm.regions = append(mm.regions, region{device: d, base: base, end: end})
	return nil
}

func (mm *MemoryMap) find(addr uint16) (*region, error) {
	for i := len(mm.regions) - 1; i >= 0; i-- {
		if mm.regions[i].contains(addr) {
			return &mm.regions[i], nil
		}
	}
	return nil, &OutOfBounds{Address: int(addr)}
}

func (mm *MemoryMap) ReadU8(addr uint16) (uint8, error) {
	r, err := mm.find(addr)
	if err != nil {
		return 0, err
	}
	return r.device.ReadU8(addr - r.base)
}

func (mm *MemoryMap) ReadU16(addr uint16) (uint16, error) {
	r, err := mm.find(addr)
	if err != nil {
		return 0, err
	}
	return r.device.ReadU16(addr - r.base)
}

func (mm *MemoryMap) WriteU8(addr uint16, v uint8) error {
	r, err := mm.find(addr)
	if err != nil {
		return err
	}
	return r.device.WriteU8(addr-r.base, v)
}

func (mm *MemoryMap) WriteU16(addr uint16, v uint16) error {
	r, err := mm.find(addr)
	if err != nil {
		return err
	}
	return r.device.WriteU16(addr-r.base, v)
}
