package manifold

import "github.com/manifoldmarkets/twitch-bot/internal/domain"

// APIMarket mirrors the platform's market payload.
type APIMarket struct {
	ID                    string             `json:"id"`
	CreatorID             string             `json:"creatorId"`
	CreatorName           string             `json:"creatorName"`
	CreatorUsername       string             `json:"creatorUsername"`
	Question              string             `json:"question"`
	Description           string             `json:"textDescription,omitempty"`
	Slug                  string             `json:"slug"`
	URL                   string             `json:"url"`
	OutcomeType           string             `json:"outcomeType"`
	Mechanism             string             `json:"mechanism"`
	CreatedTime           int64              `json:"createdTime"`
	CloseTime             int64              `json:"closeTime,omitempty"`
	Pool                  map[string]float64 `json:"pool"`
	P                     float64            `json:"p"`
	Probability           float64            `json:"probability"`
	IsResolved            bool               `json:"isResolved"`
	Resolution            string             `json:"resolution,omitempty"`
	ResolutionTime        int64              `json:"resolutionTime,omitempty"`
	ResolutionProbability *float64           `json:"resolutionProbability,omitempty"`
}

// ToDomain converts an API market to the domain representation.
func (m *APIMarket) ToDomain() domain.Market {
	return domain.Market{
		ID:              m.ID,
		CreatorID:       m.CreatorID,
		CreatorName:     m.CreatorName,
		CreatorUsername: m.CreatorUsername,
		Question:        m.Question,
		Description:     m.Description,
		Slug:            m.Slug,
		URL:             m.URL,
		OutcomeType:     m.OutcomeType,
		Mechanism:       m.Mechanism,
		CreatedTime:     m.CreatedTime,
		CloseTime:       m.CloseTime,
		Pool: domain.Pool{
			Yes: m.Pool["YES"],
			No:  m.Pool["NO"],
		},
		P:                     m.P,
		Probability:           m.Probability,
		IsResolved:            m.IsResolved,
		Resolution:            domain.Outcome(m.Resolution),
		ResolutionTime:        m.ResolutionTime,
		ResolutionProbability: m.ResolutionProbability,
	}
}

// APIBet mirrors the platform's bet payload.
type APIBet struct {
	ID           string  `json:"id"`
	UserID       string  `json:"userId"`
	ContractID   string  `json:"contractId"`
	Outcome      string  `json:"outcome"`
	Amount       float64 `json:"amount"`
	Shares       float64 `json:"shares"`
	CreatedTime  int64   `json:"createdTime"`
	IsRedemption bool    `json:"isRedemption"`
	IsSold       bool    `json:"isSold"`
	Sale         *struct {
		BetID  string  `json:"betId"`
		Amount float64 `json:"amount"`
	} `json:"sale,omitempty"`
}

// ToDomain converts an API bet to the domain representation.
func (b *APIBet) ToDomain() domain.Bet {
	bet := domain.Bet{
		ID:           b.ID,
		UserID:       b.UserID,
		Outcome:      domain.Outcome(b.Outcome),
		Amount:       b.Amount,
		Shares:       b.Shares,
		CreatedTime:  b.CreatedTime,
		IsRedemption: b.IsRedemption,
		IsSold:       b.IsSold,
	}
	if b.Sale != nil {
		bet.Sale = &domain.Sale{BetID: b.Sale.BetID, Amount: b.Sale.Amount}
	}
	return bet
}

// APIUser mirrors the platform's user payload.
type APIUser struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Username string  `json:"username"`
	Balance  float64 `json:"balance"`
}

// ToDomain converts an API user to the domain representation.
func (u *APIUser) ToDomain() domain.User {
	return domain.User{ID: u.ID, Name: u.Name, Username: u.Username, Balance: u.Balance}
}

// placeBetRequest is the body of POST /bet.
type placeBetRequest struct {
	ContractID string `json:"contractId"`
	Amount     int    `json:"amount"`
	Outcome    string `json:"outcome"`
}

// createMarketRequest is the body of POST /market. Markets created from chat
// are always unlisted binary markets starting at 50%.
type createMarketRequest struct {
	OutcomeType string `json:"outcomeType"`
	Question    string `json:"question"`
	InitialProb int    `json:"initialProb"`
	Visibility  string `json:"visibility"`
	GroupID     string `json:"groupId,omitempty"`
}

// resolveMarketRequest is the body of POST /market/{id}/resolve.
type resolveMarketRequest struct {
	Outcome string `json:"outcome"`
}

// apiError is the error envelope the platform returns on non-2xx responses.
type apiError struct {
	Message string `json:"message"`
}
