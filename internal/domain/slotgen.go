package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// GenerateSlots produces the candidate slots for the definition inside
// [windowStart, windowEnd), already reduced by the definition's exceptions.
// Slot boundaries are computed as wall-clock minutes in the definition's
// timezone and converted to UTC at emission, so daylight-saving transitions
// resolve however the tz database resolves them: a removed local time yields
// no slot, a repeated one yields whichever instant time.Date picks. Blocked
// time produces an absence of a slot, never a slot with a blocked status.
func GenerateSlots(def AvailabilityDefinition, exceptions []Exception, windowStart, windowEnd time.Time) ([]TimeSlot, error) {
	loc, err := time.LoadLocation(def.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q", def.Timezone)
	}
	if err := def.Week.Validate(); err != nil {
		return nil, err
	}

	ws := windowStart.UTC()
	we := windowEnd.UTC()
	if def.EffectiveFrom.After(ws) {
		ws = def.EffectiveFrom.UTC()
	}
	if def.EffectiveTo != nil {
		if !def.EffectiveTo.After(def.EffectiveFrom) {
			return nil, errors.New("effective_to must be after effective_from")
		}
		if def.EffectiveTo.Before(we) {
			we = def.EffectiveTo.UTC()
		}
	}
	if !ws.Before(we) {
		return nil, nil
	}

	var blocked []Interval
	for _, ex := range exceptions {
		ivs, err := ex.BlockedIntervals(loc, ws, we)
		if err != nil {
			return nil, err
		}
		blocked = append(blocked, ivs...)
	}

	var out []TimeSlot
	seen := make(map[int64]struct{})

	firstDay := civilDate(ws.In(loc))
	lastDay := civilDate(we.In(loc))
	for day := firstDay; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
		dc, ok := def.Week.For(day.Weekday())
		if !ok || !dc.Enabled {
			continue
		}
		for _, block := range dc.Blocks {
			startMin, err := ParseMinuteOfDay(block.StartTime)
			if err != nil {
				return nil, err
			}
			endMin, err := ParseMinuteOfDay(block.EndTime)
			if err != nil {
				return nil, err
			}
			dur := block.slotDuration()
			stride := dur + block.BufferMinutes

			for m := startMin; m+dur <= endMin; m += stride {
				startUTC := wallClock(day, m, loc).UTC()
				endUTC := wallClock(day, m+dur, loc).UTC()
				if !startUTC.Before(endUTC) {
					continue
				}
				if startUTC.Before(ws) || !startUTC.Before(we) {
					continue
				}
				if overlapsAny(blocked, startUTC, endUTC) {
					continue
				}
				if _, dup := seen[startUTC.UnixNano()]; dup {
					continue
				}
				seen[startUTC.UnixNano()] = struct{}{}

				out = append(out, TimeSlot{
					OwnerID:         def.OwnerID,
					DefinitionID:    def.ID,
					SlotDate:        day,
					StartAt:         startUTC,
					EndAt:           endUTC,
					LocationTypes:   def.LocationTypes,
					Status:          SlotStatusAvailable,
					PriceMinorUnits: def.PriceMinorUnits,
				})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func wallClock(day time.Time, minuteOfDay int, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minuteOfDay/60, minuteOfDay%60, 0, 0, loc)
}

func overlapsAny(blocked []Interval, start, end time.Time) bool {
	for _, iv := range blocked {
		if iv.Overlaps(start, end) {
			return true
		}
	}
	return false
}
