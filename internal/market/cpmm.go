// Package market maintains a live local mirror of one external market's
// metadata and bet history, and computes probability and resolution payouts
// for it.
package market

import (
	"fmt"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
)

// CpmmProbability returns the implied YES probability of a constant-product
// pool. The result is invariant under scaling both pool sides by the same
// positive constant.
func CpmmProbability(pool domain.Pool, p float64) float64 {
	return (p * pool.No) / ((1-p)*pool.Yes + p*pool.No)
}

// Probability returns the live probability of a market. Only the cpmm-1
// mechanism is supported; anything else is an error rather than an
// approximation.
func Probability(m domain.Market) (float64, error) {
	if m.Mechanism != domain.MechanismCPMM {
		return 0, fmt.Errorf("market %s: %w: %s", m.ID, domain.ErrUnsupportedMechanism, m.Mechanism)
	}
	return CpmmProbability(m.Pool, m.P), nil
}

// ResolvedPayout returns what the given bet pays out under the market's
// recorded resolution. Only fixed-payout settlement of binary and
// pseudo-numeric cpmm-1 markets is supported.
func ResolvedPayout(m domain.Market, bet domain.Bet) (float64, error) {
	if m.Resolution == "" {
		return 0, fmt.Errorf("market %s: not resolved", m.ID)
	}
	if m.Mechanism != domain.MechanismCPMM ||
		(m.OutcomeType != domain.OutcomeTypeBinary && m.OutcomeType != domain.OutcomeTypePseudoNumeric) {
		return 0, fmt.Errorf("market %s: %w: %s/%s", m.ID, domain.ErrUnsupportedMechanism, m.Mechanism, m.OutcomeType)
	}
	return fixedPayout(m, bet, m.Resolution)
}

// fixedPayout computes the fixed-payout settlement of one bet for a given
// outcome: CANCEL refunds the amount, MKT settles each share at the
// resolution probability, and a concrete outcome pays one unit per winning
// share.
func fixedPayout(m domain.Market, bet domain.Bet, outcome domain.Outcome) (float64, error) {
	switch outcome {
	case domain.OutcomeCancel:
		return bet.Amount, nil
	case domain.OutcomeMkt:
		return mktPayout(m, bet)
	default:
		if bet.Outcome != outcome {
			return 0, nil
		}
		return bet.Shares, nil
	}
}

// mktPayout settles a bet probabilistically. The explicit resolution
// probability wins; otherwise the live pool probability is used.
func mktPayout(m domain.Market, bet domain.Bet) (float64, error) {
	var p float64
	if m.ResolutionProbability != nil {
		p = *m.ResolutionProbability
	} else {
		var err error
		p, err = Probability(m)
		if err != nil {
			return 0, err
		}
	}
	if bet.Outcome != domain.OutcomeYes {
		p = 1 - p
	}
	return p * bet.Shares, nil
}
