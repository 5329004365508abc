// Package cpuid reports the processor features that change code selection.
package cpuid

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// edxCMOV is the CMOV bit of CPUID leaf 1, register EDX.
const edxCMOV = 1 << 15

// Features is the set of features the code generator cares about. It is
// fixed for the lifetime of a process.
type Features struct {
	CMOV bool
}

// FromEDX decodes the feature word returned in EDX by CPUID leaf 1.
func FromEDX(edx uint32) Features {
	return Features{CMOV: edx&edxCMOV != 0}
}

// Host returns the features of the processor running this program.
func Host() Features {
	switch runtime.GOARCH {
	case "amd64":
		// Every x86-64 processor implements CMOV.
		return Features{CMOV: true}
	case "386":
		// SSE2 postdates CMOV.
		return Features{CMOV: cpu.X86.HasSSE2}
	}
	return Features{}
}
