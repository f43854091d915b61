// Package availability turns a doctor's availability settings into bookable
// and blocked slots on the fixed clinic grid. Everything here is pure.
package availability

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"

	// SlotMinutes is the width of one bookable slot.
	SlotMinutes = 30
	// OpenTime is the first slot of the clinic day.
	OpenTime = "09:00"
	// CloseTime is exclusive; the last slot starts at 17:30.
	CloseTime = "18:00"

	defaultUnavailable = "Doctor is not accepting appointments"
	defaultLeave       = "Doctor is on leave"
	defaultBlocked     = "Doctor is unavailable at this time"
)

// LeaveRange is an inclusive date interval with no bookable slots.
type LeaveRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	LeaveType string `json:"leaveType,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// BlockedSlot blocks times t with StartTime <= t < EndTime on Date.
type BlockedSlot struct {
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Reason    string `json:"reason,omitempty"`
}

// Config is a doctor's availability. Values that came through Normalize
// contain only well-formed ranges.
type Config struct {
	AcceptingAppointments bool          `json:"acceptingAppointments"`
	StatusNote            string        `json:"statusNote,omitempty"`
	LeaveRanges           []LeaveRange  `json:"leaveRanges"`
	BlockedSlots          []BlockedSlot `json:"blockedSlots"`
}

// Block is the verdict for one slot.
type Block struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
}

// Open returns the configuration of a doctor with no restrictions.
func Open() Config {
	return Config{
		AcceptingAppointments: true,
		LeaveRanges:           []LeaveRange{},
		BlockedSlots:          []BlockedSlot{},
	}
}

// Normalize trims every field and drops leave ranges and blocked slots that
// are malformed or end before they start. The result never aliases c.
func Normalize(c Config) Config {
	out := Config{
		AcceptingAppointments: c.AcceptingAppointments,
		StatusNote:            strings.TrimSpace(c.StatusNote),
		LeaveRanges:           make([]LeaveRange, 0, len(c.LeaveRanges)),
		BlockedSlots:          make([]BlockedSlot, 0, len(c.BlockedSlots)),
	}

	for _, lr := range c.LeaveRanges {
		lr.StartDate = strings.TrimSpace(lr.StartDate)
		lr.EndDate = strings.TrimSpace(lr.EndDate)
		lr.LeaveType = strings.TrimSpace(lr.LeaveType)
		lr.Reason = strings.TrimSpace(lr.Reason)
		if !ValidDate(lr.StartDate) || !ValidDate(lr.EndDate) || lr.EndDate < lr.StartDate {
			continue
		}
		out.LeaveRanges = append(out.LeaveRanges, lr)
	}

	for _, bs := range c.BlockedSlots {
		bs.Date = strings.TrimSpace(bs.Date)
		bs.StartTime = strings.TrimSpace(bs.StartTime)
		bs.EndTime = strings.TrimSpace(bs.EndTime)
		bs.Reason = strings.TrimSpace(bs.Reason)
		if !ValidDate(bs.Date) || !validClock(bs.StartTime) || !validClock(bs.EndTime) || bs.EndTime < bs.StartTime {
			continue
		}
		out.BlockedSlots = append(out.BlockedSlots, bs)
	}

	return out
}

// BlockFor reports whether slot (HH:MM) on date (YYYY-MM-DD) is blocked and why.
func (c Config) BlockFor(date, slot string) Block {
	if reason, blocked := c.dayBlock(date); blocked {
		return Block{Blocked: true, Reason: reason}
	}

	for _, bs := range c.BlockedSlots {
		if bs.Date != date {
			continue
		}
		if bs.StartTime <= slot && slot < bs.EndTime {
			return Block{Blocked: true, Reason: orDefault(bs.Reason, defaultBlocked)}
		}
	}

	return Block{}
}

// BlockedSlotsForDate maps every blocked grid slot on date to its reason.
// Open slots are absent from the map.
func (c Config) BlockedSlotsForDate(date string) map[string]string {
	blocked := make(map[string]string)
	for _, slot := range Slots() {
		if b := c.BlockFor(date, slot); b.Blocked {
			blocked[slot] = b.Reason
		}
	}
	return blocked
}

func (c Config) dayBlock(date string) (string, bool) {
	if !c.AcceptingAppointments {
		return orDefault(c.StatusNote, defaultUnavailable), true
	}

	// fixed-width YYYY-MM-DD compares correctly as strings
	for _, lr := range c.LeaveRanges {
		if lr.StartDate <= date && date <= lr.EndDate {
			return leaveReason(lr), true
		}
	}

	return "", false
}

func leaveReason(lr LeaveRange) string {
	switch {
	case lr.LeaveType != "" && lr.Reason != "":
		return fmt.Sprintf("%s: %s", lr.LeaveType, lr.Reason)
	case lr.Reason != "":
		return lr.Reason
	case lr.LeaveType != "":
		return lr.LeaveType
	default:
		return defaultLeave
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Slots returns the clinic grid: 30 minute starts from 09:00 up to, not
// including, 18:00.
func Slots() []string {
	open, _ := time.Parse(timeLayout, OpenTime)
	closing, _ := time.Parse(timeLayout, CloseTime)

	var slots []string
	for t := open; t.Before(closing); t = t.Add(SlotMinutes * time.Minute) {
		slots = append(slots, t.Format(timeLayout))
	}
	return slots
}

// OnGrid reports whether a canonical HH:MM time is a slot start within
// clinic hours.
func OnGrid(slot string) bool {
	if !validClock(slot) || slot < OpenTime || slot >= CloseTime {
		return false
	}
	t, _ := time.Parse(timeLayout, slot)
	return t.Minute()%SlotMinutes == 0
}

// ValidDate reports whether s is a real calendar date in YYYY-MM-DD form.
func ValidDate(s string) bool {
	if len(s) != len(dateLayout) {
		return false
	}
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

func validClock(s string) bool {
	if len(s) != len(timeLayout) {
		return false
	}
	_, err := time.Parse(timeLayout, s)
	return err == nil
}
