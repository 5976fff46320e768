package domain

import "strconv"

// StopID identifies a transit stop. Valid values are >= 1.
type StopID uint64

func (s StopID) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// DueTime is either "due now" or a positive number of minutes.
type DueTime struct {
	now     bool
	minutes int
}

// DueNow returns the due-now descriptor.
func DueNow() DueTime {
	return DueTime{now: true}
}

// DueIn returns a minutes descriptor. Values below one collapse to DueNow.
func DueIn(minutes int) DueTime {
	if minutes < 1 {
		return DueNow()
	}
	return DueTime{minutes: minutes}
}

func (d DueTime) IsNow() bool {
	return d.now || d.minutes < 1
}

func (d DueTime) Minutes() int {
	if d.IsNow() {
		return 0
	}
	return d.minutes
}

// ArrivalRecord is one predicted arrival at a stop.
type ArrivalRecord struct {
	Route string
	Due   DueTime
}
