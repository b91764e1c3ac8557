package payment

import "github.com/smith3v/valentine-bot/pkg/apperr"

type Invoice struct {
	Title       string
	Description string
	Payload     string
	Amount      int
}

var invoiceTexts = map[Kind][2]string{
	KindReveal:     {"Reveal the sender", "Find out who sent you this valentine."},
	KindGift:       {"Attach a gift", "Add a gift to your valentine."},
	KindBundle:     {"5 extra valentines", "Five more valentines to send whenever you like."},
	KindWeekBundle: {"Weekly bundle", "20 extra valentines and free roulette for a week."},
	KindRoulette:   {"Extra roulette match", "One more anonymous match today."},
	KindPoem:       {"Valentine poem", "Turn your valentine into a poem."},
	KindPremium:    {"Premium design", "A premium look for your next valentine."},
	KindVoice:      {"Voice valentine", "Send your next valentine as a voice message."},
	KindSchedule:   {"Scheduled delivery", "Deliver your next valentine at a time you choose."},
	KindCompat:     {"Compatibility test", "Unlock the compatibility test."},
}

var subscriptionTitles = map[string]string{
	OfferRomantic:   "Romantic subscription (1 month)",
	OfferLovebomb:   "Lovebomb subscription (1 month)",
	OfferLovebomb3M: "Lovebomb subscription (3 months)",
}

// Invoice describes what the bot should bill for p.
func (r *Reconciler) Invoice(p Payload) (Invoice, error) {
	amount := p.Price(r.prices)
	if amount <= 0 {
		return Invoice{}, apperr.Validation("this item is not for sale")
	}
	inv := Invoice{Payload: p.Tag(), Amount: amount}
	if p.Kind == KindSub {
		inv.Title = subscriptionTitles[p.Offer]
		inv.Description = "Higher daily limits and extras while the plan lasts."
		return inv, nil
	}
	texts, ok := invoiceTexts[p.Kind]
	if !ok {
		return Invoice{}, ErrBadPayload
	}
	inv.Title, inv.Description = texts[0], texts[1]
	return inv, nil
}
