package jit

import (
	"fmt"
	"runtime"
	"slices"

	"github.com/klauspost/cpuid/v2"
)

// Environment describes the host a CodeBuffer was generated for. Code is only
// published into a runtime whose environment matches the buffer's.
type Environment struct {
	OS        string
	Arch      string
	Vendor    string
	Brand     string
	CacheLine int
	Features  []string
}

// HostEnvironment describes the machine we are running on.
func HostEnvironment() Environment {
	return Environment{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Vendor:    cpuid.CPU.VendorString,
		Brand:     cpuid.CPU.BrandName,
		CacheLine: cpuid.CPU.CacheLine,
		Features:  cpuid.CPU.FeatureSet(),
	}
}

func (e Environment) Equal(o Environment) bool {
	return e.OS == o.OS &&
		e.Arch == o.Arch &&
		e.Vendor == o.Vendor &&
		e.Brand == o.Brand &&
		slices.Equal(e.Features, o.Features)
}

func (e Environment) String() string {
	brand := e.Brand
	if brand == "" {
		brand = "unknown cpu"
	}
	return fmt.Sprintf("%s/%s %s (%d features)", e.OS, e.Arch, brand, len(e.Features))
}
