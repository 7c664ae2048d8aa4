package uapi

// IOOpcode identifies the data-plane operation a media command performs.
type IOOpcode uint8

const (
	IOOpAppend IOOpcode = iota
	IOOpRead
)

// ZoneMgmtOpcode identifies a zone-mgmt command submitted through
// Media.SubmitZoneMgmt (spec.md §6).
type ZoneMgmtOpcode uint8

const (
	ZoneMgmtOpen ZoneMgmtOpcode = iota
	ZoneMgmtClose
	ZoneMgmtFinish
	ZoneMgmtReset
	ZoneMgmtReport
)

// MiscOpcode identifies an async-context lifecycle command submitted
// through Media.SubmitMisc (spec.md §6).
type MiscOpcode uint8

const (
	MiscAsynchInit MiscOpcode = iota
	MiscAsynchTerm
)
