package blockdev

import "fmt"

// MemDisk is an in-memory Device, standing in for a real IDE/AHCI disk the
// way the teacher's simulated devices stand in for real hardware ports.
// Mainly useful for tests and for building a file-system image without a
// backing file.
type MemDisk struct {
	sectors [][SectorSize]byte
}

// NewMemDisk creates a disk of n sectors, all zeroed.
func NewMemDisk(n int) *MemDisk {
	return &MemDisk{sectors: make([][SectorSize]byte, n)}
}

func (d *MemDisk) Init() error { return nil }

func (d *MemDisk) ReadSector(block uint32, dst []byte) error {
	if int(block) >= len(d.sectors) {
		return fmt.Errorf("memdisk: read: block %d out of range", block)
	}

	copy(dst, d.sectors[block][:])

	return nil
}

func (d *MemDisk) WriteSector(block uint32, src []byte) error {
	if int(block) >= len(d.sectors) {
		return fmt.Errorf("memdisk: write: block %d out of range", block)
	}

	copy(d.sectors[block][:], src)

	return nil
}
