package regalloc

// ABI describes the host calling convention the allocator marshals
// arguments for in HostCall.
type ABI struct {
	// Params are the first four integer parameter registers, in order.
	Params [4]HostLoc
	// Return is the integer return register.
	Return HostLoc
	// CallerSave lists every register the callee may clobber.
	CallerSave HostLocList

	// otherCallerSave is CallerSave minus the parameter and return
	// registers, which HostCall reserves individually. Computed once at
	// construction rather than on every call.
	otherCallerSave HostLocList
}

// NewABI returns an ABI description with the derived caller-save set
// precomputed.
func NewABI(params [4]HostLoc, ret HostLoc, callerSave HostLocList) *ABI {
	abi := &ABI{Params: params, Return: ret, CallerSave: callerSave}
	for _, loc := range callerSave {
		if loc == ret || loc == params[0] || loc == params[1] || loc == params[2] || loc == params[3] {
			continue
		}
		abi.otherCallerSave = append(abi.otherCallerSave, loc)
	}
	return abi
}

// SystemV is the System V AMD64 calling convention. R15 is absent from the
// caller-save set: it is pinned to the guest state pointer and never
// allocated.
var SystemV = NewABI(
	[4]HostLoc{HostLocRDI, HostLocRSI, HostLocRDX, HostLocRCX},
	HostLocRAX,
	HostLocList{
		HostLocRAX, HostLocRCX, HostLocRDX, HostLocRSI, HostLocRDI,
		HostLocR8, HostLocR9, HostLocR10, HostLocR11,
		HostLocXMM0, HostLocXMM1, HostLocXMM2, HostLocXMM3, HostLocXMM4, HostLocXMM5,
		HostLocXMM6, HostLocXMM7, HostLocXMM8, HostLocXMM9, HostLocXMM10, HostLocXMM11,
		HostLocXMM12, HostLocXMM13, HostLocXMM14, HostLocXMM15,
	},
)
