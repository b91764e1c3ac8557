package quota

import "github.com/smith3v/valentine-bot/pkg/subscription"

type Slot string

const (
	SlotNone      Slot = ""
	SlotDated     Slot = "dated"
	SlotBonus     Slot = "bonus"
	SlotUnlimited Slot = "unlimited"
)

type sendState struct {
	Count int
	Date  string
	Bonus int
}

type rouletteState struct {
	Uses int
	Date string
}

func canSend(st sendState, today string, limit int) bool {
	switch {
	case limit == subscription.Unlimited:
		return true
	case st.Bonus > 0:
		return true
	case st.Date != today:
		return limit > 0
	default:
		return st.Count < limit
	}
}

// planSend applies the consumption order: a rolled-over day resets and
// consumes a dated slot, otherwise bonus credits go first, then the counter.
// Unlimited plans only count sends and never burn bonus credits.
func planSend(st sendState, today string, limit int) (sendState, Slot, bool) {
	rolled := st.Date != today
	if limit == subscription.Unlimited {
		if rolled {
			st.Count = 0
		}
		st.Count++
		st.Date = today
		return st, SlotUnlimited, true
	}
	if rolled && limit > 0 {
		st.Count = 1
		st.Date = today
		return st, SlotDated, true
	}
	if st.Bonus > 0 {
		st.Bonus--
		return st, SlotBonus, true
	}
	if !rolled && st.Count < limit {
		st.Count++
		return st, SlotDated, true
	}
	return st, SlotNone, false
}

func canRoulette(st rouletteState, today string, freeDaily int, privileged bool) bool {
	if privileged {
		return true
	}
	if st.Date != today {
		return freeDaily > 0
	}
	return st.Uses < freeDaily
}

func planRoulette(st rouletteState, today string, freeDaily int, privileged bool) (rouletteState, bool) {
	if !canRoulette(st, today, freeDaily, privileged) {
		return st, false
	}
	if st.Date != today {
		st.Uses = 0
		st.Date = today
	}
	st.Uses++
	return st, true
}
