package payment

import (
	"strconv"
	"strings"

	"github.com/smith3v/valentine-bot/pkg/apperr"
	"github.com/smith3v/valentine-bot/pkg/config"
	"github.com/smith3v/valentine-bot/pkg/subscription"
)

type Kind string

const (
	KindReveal     Kind = "reveal"
	KindGift       Kind = "gift"
	KindBundle     Kind = "bundle"
	KindWeekBundle Kind = "weekbundle"
	KindSub        Kind = "sub"
	KindRoulette   Kind = "roulette"
	KindPoem       Kind = "poem"
	KindPremium    Kind = "premium"
	KindVoice      Kind = "voice"
	KindSchedule   Kind = "schedule"
	KindCompat     Kind = "compat"
)

// Subscription offers sold through sub_<offer>_<user>.
const (
	OfferRomantic   = "romantic"
	OfferLovebomb   = "lovebomb"
	OfferLovebomb3M = "lovebomb3m"
)

var ErrBadPayload = apperr.Validation("unknown purchase")

// Payload is the parsed invoice payload. Only the fields relevant to Kind are
// set.
type Payload struct {
	Kind        Kind
	UserID      int64
	ValentineID uint
	Emoji       string
	Offer       string
	Ref         string
}

// ParsePayload reads tags such as reveal_12, gift_12_🌹, sub_lovebomb3m_42
// or bundle_42.
func ParsePayload(tag string) (Payload, error) {
	head, rest, _ := strings.Cut(strings.TrimSpace(tag), "_")
	p := Payload{Kind: Kind(head)}

	switch p.Kind {
	case KindReveal:
		id, err := parseValentineID(rest)
		if err != nil {
			return Payload{}, err
		}
		p.ValentineID = id
	case KindGift:
		idPart, emoji, ok := strings.Cut(rest, "_")
		if !ok || emoji == "" {
			return Payload{}, ErrBadPayload
		}
		id, err := parseValentineID(idPart)
		if err != nil {
			return Payload{}, err
		}
		p.ValentineID = id
		p.Emoji = emoji
	case KindSub:
		offer, userPart, ok := strings.Cut(rest, "_")
		if !ok {
			return Payload{}, ErrBadPayload
		}
		if _, _, err := offerPlan(offer); err != nil {
			return Payload{}, err
		}
		userID, err := parseUserID(userPart)
		if err != nil {
			return Payload{}, err
		}
		p.Offer = offer
		p.UserID = userID
	case KindCompat:
		if rest == "" {
			return Payload{}, ErrBadPayload
		}
		p.Ref = rest
	case KindBundle, KindWeekBundle, KindRoulette:
		userID, err := parseUserID(rest)
		if err != nil {
			return Payload{}, err
		}
		p.UserID = userID
	case KindPoem, KindPremium, KindVoice, KindSchedule:
		// the user suffix is optional for one-shot unlocks
		if rest != "" {
			userID, err := parseUserID(rest)
			if err != nil {
				return Payload{}, err
			}
			p.UserID = userID
		}
	default:
		return Payload{}, ErrBadPayload
	}
	return p, nil
}

// Tag renders the payload back into its invoice form.
func (p Payload) Tag() string {
	switch p.Kind {
	case KindReveal:
		return joinTag(p.Kind, strconv.FormatUint(uint64(p.ValentineID), 10))
	case KindGift:
		return joinTag(p.Kind, strconv.FormatUint(uint64(p.ValentineID), 10), p.Emoji)
	case KindSub:
		return joinTag(p.Kind, p.Offer, strconv.FormatInt(p.UserID, 10))
	case KindCompat:
		return joinTag(p.Kind, p.Ref)
	default:
		if p.UserID == 0 {
			return string(p.Kind)
		}
		return joinTag(p.Kind, strconv.FormatInt(p.UserID, 10))
	}
}

// Price looks the payload up in the configured price list.
func (p Payload) Price(prices config.PricesConfig) int {
	switch p.Kind {
	case KindReveal:
		return prices.Reveal
	case KindGift:
		return prices.Gift
	case KindBundle:
		return prices.Bundle
	case KindWeekBundle:
		return prices.WeekBundle
	case KindRoulette:
		return prices.RouletteExtra
	case KindPoem:
		return prices.Poem
	case KindPremium:
		return prices.Premium
	case KindVoice:
		return prices.Voice
	case KindSchedule:
		return prices.Schedule
	case KindCompat:
		return prices.Compat
	case KindSub:
		switch p.Offer {
		case OfferRomantic:
			return prices.SubRomantic
		case OfferLovebomb:
			return prices.SubLovebomb
		case OfferLovebomb3M:
			return prices.SubLovebomb3M
		}
	}
	return 0
}

// offerPlan maps an offer to its plan and length. lovebomb3m is the lovebomb
// plan bought for 90 days.
func offerPlan(offer string) (subscription.Plan, int, error) {
	switch offer {
	case OfferRomantic:
		return subscription.PlanRomantic, 30, nil
	case OfferLovebomb:
		return subscription.PlanLovebomb, 30, nil
	case OfferLovebomb3M:
		return subscription.PlanLovebomb, 90, nil
	default:
		return subscription.PlanNone, 0, subscription.ErrUnknownPlan
	}
}

func parseValentineID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrBadPayload
	}
	return uint(id), nil
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrBadPayload
	}
	return id, nil
}

func joinTag(kind Kind, parts ...string) string {
	return strings.Join(append([]string{string(kind)}, parts...), "_")
}
