package bot

import (
	"fmt"
	"math"
	"strings"

	"github.com/manifoldmarkets/twitch-bot/internal/domain"
)

// maxAnnouncedWinners caps the leaderboard echoed into chat on resolution.
const maxAnnouncedWinners = 10

func msgSignup(username, signupURL string) string {
	return fmt.Sprintf("Hello %s! Click here to play: %s!", username, signupURL)
}

func msgHelp(signupURL string) string {
	return "Check out the full list of commands and how to play here: " + signupURL
}

func msgNotEnoughManaPlaceBet(username string) string {
	return fmt.Sprintf("Sorry %s, you don't have enough Mana to place that bet", username)
}

func msgNotEnoughManaCreateMarket(username string, balance float64) string {
	return fmt.Sprintf("Sorry %s, the owner of this channel doesn't have enough Mana (M$%.0f/M$100) to create a market LUL", username, math.Floor(balance))
}

func msgBalance(username string, balance float64) string {
	return fmt.Sprintf("%s currently has M$%.0f", username, math.Floor(balance))
}

func msgPosition(username string, shares int) string {
	direction := ""
	if shares > 0 {
		direction = " YES"
	} else if shares < 0 {
		direction = " NO"
	}
	plural := "s"
	if shares == 1 {
		plural = ""
	}
	abs := shares
	if abs < 0 {
		abs = -abs
	}
	return fmt.Sprintf("%s has %d%s share%s.", username, abs, direction, plural)
}

func msgMarketCreated(question string) string {
	return fmt.Sprintf("The market '%s' has been created!", question)
}

func msgMarketUnfeatured() string {
	return "Market unfeatured."
}

func msgFeatured(m domain.Market) string {
	return fmt.Sprintf("The market %s is now being featured! %s", m.Question, m.URL)
}

func msgCommandFailed(username string) string {
	return fmt.Sprintf("Sorry %s but an internal error occurred handling your command BibleThump", username)
}

func msgNoMarketSelected(username string) string {
	return fmt.Sprintf("Sorry %s but no market is currently active on this stream.", username)
}

func msgTradingClosed(username string) string {
	return fmt.Sprintf("Too slow %s, your bet was too late!", username)
}

func msgBehindProcessing() string {
	return "The bot is processing a lot of orders right now, please be patient!"
}

func msgResolved(m domain.Market, summary domain.ResolutionSummary) string {
	outcome := string(summary.Outcome)
	if summary.Outcome == domain.OutcomeCancel {
		outcome = "N/A"
	}
	message := fmt.Sprintf("The market has resolved to %s!", outcome)

	if len(summary.TopWinners) > 0 {
		winners := summary.TopWinners
		if len(winners) > maxAnnouncedWinners {
			winners = winners[:maxAnnouncedWinners]
		}
		parts := make([]string, 0, len(winners))
		for _, w := range winners {
			sign := ""
			if w.Profit > 0 {
				sign = "+"
			}
			parts = append(parts, fmt.Sprintf("%s (%s%.0f)", w.DisplayName, sign, w.Profit))
		}
		message += fmt.Sprintf(" The top %d bettors are %s", maxAnnouncedWinners, strings.Join(parts, ", "))
	}

	message += " See the market here: " + m.URL
	return message
}
