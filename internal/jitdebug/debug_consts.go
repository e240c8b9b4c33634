package jitdebug

// These consts are used various places in the backend. Instead of defining
// them in each file, we define them here so that we can quickly iterate on
// debugging without spending "where do we have debug logging?" time.

// ----- Debug logging -----
// These consts must be disabled by default. Enable them only when debugging.

const (
	RegAllocLoggingEnabled  = false
	ConstPropLoggingEnabled = false
)

// ----- Output prints -----
// These consts must be disabled by default. Enable them only when debugging.

const (
	PrintFoldedBlock = false
)

// ----- Validations -----
// These consts are cheap enough to keep enabled by default.

const (
	RegAllocValidationEnabled = true
)
