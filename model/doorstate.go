package model

// DoorState is the per-node routing signal produced by the adaptive
// controller each tick.
type DoorState string

const (
	DoorOpen     DoorState = "open"
	DoorRedirect DoorState = "redirect"
	DoorClosed   DoorState = "closed"
)

// Blocks reports whether routing must avoid a node in this state.
func (s DoorState) Blocks() bool {
	return s == DoorClosed || s == DoorRedirect
}
