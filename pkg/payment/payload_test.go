package payment

import (
	"errors"
	"testing"

	"github.com/smith3v/valentine-bot/pkg/config"
	"github.com/smith3v/valentine-bot/pkg/subscription"
)

func TestParsePayload(t *testing.T) {
	cases := []struct {
		tag  string
		want Payload
	}{
		{"reveal_12", Payload{Kind: KindReveal, ValentineID: 12}},
		{"gift_7_🌹", Payload{Kind: KindGift, ValentineID: 7, Emoji: "🌹"}},
		{"bundle_42", Payload{Kind: KindBundle, UserID: 42}},
		{"weekbundle_42", Payload{Kind: KindWeekBundle, UserID: 42}},
		{"roulette_42", Payload{Kind: KindRoulette, UserID: 42}},
		{"sub_lovebomb3m_42", Payload{Kind: KindSub, Offer: OfferLovebomb3M, UserID: 42}},
		{"sub_romantic_42", Payload{Kind: KindSub, Offer: OfferRomantic, UserID: 42}},
		{"poem", Payload{Kind: KindPoem}},
		{"poem_42", Payload{Kind: KindPoem, UserID: 42}},
		{"schedule_42", Payload{Kind: KindSchedule, UserID: 42}},
		{"compat_ab12cd", Payload{Kind: KindCompat, Ref: "ab12cd"}},
	}
	for _, tc := range cases {
		t.Run(tc.tag, func(t *testing.T) {
			got, err := ParsePayload(tc.tag)
			if err != nil {
				t.Fatalf("ParsePayload(%q) returned error: %v", tc.tag, err)
			}
			if got != tc.want {
				t.Fatalf("ParsePayload(%q) = %+v, want %+v", tc.tag, got, tc.want)
			}
			if got.Tag() != tc.tag {
				t.Fatalf("Tag() = %q, want %q", got.Tag(), tc.tag)
			}
		})
	}
}

func TestParsePayloadRejectsMalformedTags(t *testing.T) {
	for _, tag := range []string{"", "refund_1", "reveal_", "reveal_x", "reveal_0", "gift_7", "gift_7_", "sub_gold_42", "sub_romantic", "bundle_", "bundle_-3", "compat_", "horoscope", "horoscope_42"} {
		if _, err := ParsePayload(tag); err == nil {
			t.Fatalf("expected %q to be rejected", tag)
		}
	}
}

func TestPriceAndOfferPlan(t *testing.T) {
	prices := config.Default().Prices
	if got := (Payload{Kind: KindSub, Offer: OfferLovebomb3M}).Price(prices); got != prices.SubLovebomb3M {
		t.Fatalf("unexpected lovebomb3m price %d", got)
	}
	if got := (Payload{Kind: KindRoulette}).Price(prices); got != prices.RouletteExtra {
		t.Fatalf("unexpected roulette price %d", got)
	}
	plan, days, err := offerPlan(OfferLovebomb3M)
	if err != nil || plan != subscription.PlanLovebomb || days != 90 {
		t.Fatalf("offerPlan(lovebomb3m) = %q, %d, %v", plan, days, err)
	}
	if _, _, err := offerPlan("gold"); !errors.Is(err, subscription.ErrUnknownPlan) {
		t.Fatalf("expected unknown offer to fail, got %v", err)
	}
}
