// Package reputation implements the relay's ELO rating book: pairwise
// settlement math, stake escrow, and atomic JSON persistence.
package reputation

import "math"

const (
	// DefaultRating is every agent's starting rating.
	DefaultRating = 1200

	// RatingFloor is the lowest rating any settlement can leave an agent
	// with. Holds are bounded by availability, not by the floor.
	RatingFloor = 100

	// amountMultiplierCap bounds how much a priced task can scale K.
	amountMultiplierCap = 3.0
)

// Expected is the standard ELO expectation: the probability-like score of
// the first rating against the second. 400 points of advantage is ~10:1.
func Expected(rating, other int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(other-rating)/400.0))
}

// KFactor scales settlement sizes down as an agent accumulates completed
// transactions: 32 under 30, 24 under 100, 16 from there on.
func KFactor(transactions int) int {
	switch {
	case transactions < 30:
		return 32
	case transactions < 100:
		return 24
	default:
		return 16
	}
}

// EffectiveK scales K by the task's monetary amount: K * (1 + log10(amount+1)),
// capped at 3x. Unpriced (and nonsensical negative) amounts leave K as is.
func EffectiveK(k int, amount float64) float64 {
	if amount <= 0 {
		return float64(k)
	}
	multiplier := 1 + math.Log10(amount+1)
	if multiplier > amountMultiplierCap {
		multiplier = amountMultiplierCap
	}
	return float64(k) * multiplier
}

// CompletionGain is one party's rating gain for a completed transaction:
// the ELO win delta halved (completion is positive-sum, both sides gain),
// never less than 1.
func CompletionGain(rating, other, transactions int, amount float64) int {
	keff := EffectiveK(KFactor(transactions), amount)
	gain := int(math.Round(keff * (1 - Expected(rating, other)) / 2))
	if gain < 1 {
		return 1
	}
	return gain
}

// DisputeLoss is the at-fault party's rating loss: the ELO loss delta for
// losing a transaction they were expected to complete, never less than 1.
func DisputeLoss(rating, other, transactions int, amount float64) int {
	keff := EffectiveK(KFactor(transactions), amount)
	loss := int(math.Round(keff * Expected(rating, other)))
	if loss < 1 {
		return 1
	}
	return loss
}

// DisputerGain is the disputing party's gain: half the loser's loss,
// rounded, never less than 1.
func DisputerGain(loss int) int {
	gain := int(math.Round(float64(loss) / 2))
	if gain < 1 {
		return 1
	}
	return gain
}

func clampFloor(rating int) int {
	if rating < RatingFloor {
		return RatingFloor
	}
	return rating
}
