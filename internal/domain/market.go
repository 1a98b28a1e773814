package domain

import "strings"

// Market mechanisms and outcome types as reported by the external platform.
// Only the constant-product market maker over binary (or pseudo-numeric)
// outcomes is supported; everything else must be rejected, not approximated.
const (
	MechanismCPMM = "cpmm-1"

	OutcomeTypeBinary        = "BINARY"
	OutcomeTypePseudoNumeric = "PSEUDO_NUMERIC"
)

// Outcome is a bet direction or a terminal market resolution.
type Outcome string

const (
	OutcomeYes    Outcome = "YES"
	OutcomeNo     Outcome = "NO"
	OutcomeMkt    Outcome = "MKT"    // probabilistic settlement
	OutcomeCancel Outcome = "CANCEL" // refund everyone
)

// ParseOutcome maps an outcome token to its canonical Outcome. "NA" and
// "N/A" are accepted as spellings of CANCEL, and "PROB" as an alias of MKT.
func ParseOutcome(s string) (Outcome, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES":
		return OutcomeYes, true
	case "NO":
		return OutcomeNo, true
	case "MKT", "PROB":
		return OutcomeMkt, true
	case "CANCEL", "NA", "N/A":
		return OutcomeCancel, true
	default:
		return "", false
	}
}

// Market is the metadata snapshot of one external market.
type Market struct {
	ID              string  `json:"id"`
	CreatorID       string  `json:"creatorId"`
	CreatorName     string  `json:"creatorName"`
	CreatorUsername string  `json:"creatorUsername"`
	Question        string  `json:"question"`
	Description     string  `json:"description,omitempty"`
	Slug            string  `json:"slug"`
	URL             string  `json:"url"`
	OutcomeType     string  `json:"outcomeType"`
	Mechanism       string  `json:"mechanism"`
	CreatedTime     int64   `json:"createdTime"` // epoch millis, platform convention
	CloseTime       int64   `json:"closeTime,omitempty"`
	Pool            Pool    `json:"pool"`
	P               float64 `json:"p"`
	Probability     float64 `json:"probability"`

	IsResolved            bool     `json:"isResolved"`
	Resolution            Outcome  `json:"resolution,omitempty"`
	ResolutionTime        int64    `json:"resolutionTime,omitempty"`
	ResolutionProbability *float64 `json:"resolutionProbability,omitempty"`
}

// Pool holds the YES/NO share pool of a CPMM market.
type Pool struct {
	Yes float64 `json:"YES"`
	No  float64 `json:"NO"`
}

// Bet is one immutable ledger entry of a market.
type Bet struct {
	ID           string  `json:"id"`
	UserID       string  `json:"userId"`
	Outcome      Outcome `json:"outcome"`
	Amount       float64 `json:"amount"`
	Shares       float64 `json:"shares"`
	CreatedTime  int64   `json:"createdTime"`
	IsRedemption bool    `json:"isRedemption"`
	IsSold       bool    `json:"isSold"`
	Sale         *Sale   `json:"sale,omitempty"`
}

// Sale links a sale bet back to the bet it liquidated. Realized profit for
// the pair is Sale.Amount minus the original bet's Amount.
type Sale struct {
	BetID  string  `json:"betId"`
	Amount float64 `json:"amount"`
}

// NamedBet is a Bet annotated with the bettor's display name for broadcast.
type NamedBet struct {
	Bet
	Username string `json:"username"`
}

// ProfitEntry is one row of a resolution leaderboard.
type ProfitEntry struct {
	DisplayName string  `json:"displayName"`
	Profit      float64 `json:"profit"`
}

// ResolutionSummary is the computed outcome breakdown of a resolved market:
// winners and losers ranked by absolute profit, plus the distinct bettor
// count across the full bet history.
type ResolutionSummary struct {
	Outcome       Outcome       `json:"outcome"`
	UniqueTraders int           `json:"uniqueTraders"`
	TopWinners    []ProfitEntry `json:"topWinners"`
	TopLosers     []ProfitEntry `json:"topLosers"`
}

// User is a platform user as returned by the external gateway.
type User struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Username string  `json:"username"`
	Balance  float64 `json:"balance"`
}
