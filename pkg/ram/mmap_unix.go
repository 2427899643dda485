//go:build unix

package ram

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapAnonymous reserves size bytes of zeroed, private memory for the guest.
// Pages are only committed by the kernel when first touched.
func mapAnonymous(size int) ([]byte, func([]byte) error, error) {
	buffer, err := unix.Mmap(
		-1, 0,
		size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to mmap guest memory: %w", err)
	}
	return buffer, unix.Munmap, nil
}
