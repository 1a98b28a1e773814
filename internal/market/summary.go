package market

import (
	"fmt"
	"math"
	"sort"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
)

// ComputeSummary builds the resolution leaderboard for a resolved market
// over its visible bet sequence.
//
// Profit attribution: when a bet records a sale of an earlier bet, the pair
// realizes sale.amount - original.amount and that profit belongs to both bet
// ids. Every still-open bet (neither sold nor a sale) realizes
// payout - amount at resolution; per-user totals sum only those open bets.
// Users whose rounded profit is zero are dropped, and winners and losers are
// each ranked by descending absolute profit.
func ComputeSummary(m domain.Market, bets []domain.NamedBet) (domain.ResolutionSummary, error) {
	if m.Resolution == "" {
		return domain.ResolutionSummary{}, fmt.Errorf("market %s: not resolved", m.ID)
	}

	betsByID := make(map[string]domain.NamedBet, len(bets))
	for _, b := range bets {
		betsByID[b.ID] = b
	}

	profitByBet := make(map[string]float64, len(bets))
	userProfits := make(map[string]float64)
	userNames := make(map[string]string)
	traders := make(map[string]struct{})

	for _, b := range bets {
		traders[b.UserID] = struct{}{}
		userNames[b.UserID] = b.Username

		if b.Sale != nil {
			original, ok := betsByID[b.Sale.BetID]
			if !ok {
				return domain.ResolutionSummary{}, fmt.Errorf("market %s: bet %s sells unknown bet %s", m.ID, b.ID, b.Sale.BetID)
			}
			profit := b.Sale.Amount - original.Amount
			profitByBet[b.ID] = profit
			profitByBet[original.ID] = profit
			continue
		}

		payout, err := ResolvedPayout(m, b.Bet)
		if err != nil {
			return domain.ResolutionSummary{}, err
		}
		profitByBet[b.ID] = payout - b.Amount
		if !b.IsSold {
			userProfits[b.UserID] += payout - b.Amount
		}
	}

	var winners, losers []domain.ProfitEntry
	for userID, profit := range userProfits {
		if math.Round(math.Abs(profit)) == 0 {
			continue
		}
		entry := domain.ProfitEntry{DisplayName: userNames[userID], Profit: profit}
		if profit > 0 {
			winners = append(winners, entry)
		} else {
			losers = append(losers, entry)
		}
	}

	byMagnitude := func(entries []domain.ProfitEntry) func(i, j int) bool {
		return func(i, j int) bool {
			return math.Abs(entries[i].Profit) > math.Abs(entries[j].Profit)
		}
	}
	sort.Slice(winners, byMagnitude(winners))
	sort.Slice(losers, byMagnitude(losers))

	return domain.ResolutionSummary{
		Outcome:       m.Resolution,
		UniqueTraders: len(traders),
		TopWinners:    winners,
		TopLosers:     losers,
	}, nil
}
