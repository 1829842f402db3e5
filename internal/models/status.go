package models

// RideStatus is the ride lifecycle state. "searching" is accepted on input as
// an alias of "pending" and normalized before any transition check.
type RideStatus string

const (
	StatusPending   RideStatus = "pending"
	StatusSearching RideStatus = "searching"
	StatusAccepted  RideStatus = "accepted"
	StatusArrived   RideStatus = "arrived"
	StatusStarted   RideStatus = "started"
	StatusCompleted RideStatus = "completed"
	StatusCancelled RideStatus = "cancelled"
)

// transitions is the closed table of legal lifecycle moves. Anything not
// listed here is rejected.
var transitions = map[RideStatus][]RideStatus{
	StatusPending:  {StatusAccepted, StatusCancelled},
	StatusAccepted: {StatusArrived, StatusCancelled},
	StatusArrived:  {StatusStarted},
	StatusStarted:  {StatusCompleted},
}

// Canonical folds the searching alias into pending.
func (s RideStatus) Canonical() RideStatus {
	if s == StatusSearching {
		return StatusPending
	}
	return s
}

// CanTransition reports whether from→to is a legal lifecycle move.
func CanTransition(from, to RideStatus) bool {
	for _, next := range transitions[from.Canonical()] {
		if next == to.Canonical() {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s RideStatus) Terminal() bool {
	return len(transitions[s.Canonical()]) == 0
}

// Dispatchable reports whether the ride is still open for acceptance.
func (s RideStatus) Dispatchable() bool {
	return s.Canonical() == StatusPending
}
