package handler

import (
	"time"

	rmodels "civica/internal/resident/models"
	vmodels "civica/internal/verification/models"
)

// ChallengeResponse answers start and resend: enough for the caller to show
// a countdown and drive the confirm step. The secret itself never appears.
type ChallengeResponse struct {
	Success          bool      `json:"success"`
	CorrelationID    string    `json:"correlation_id"`
	Method           string    `json:"method"`
	ExpiresAt        time.Time `json:"expires_at"`
	ResendsRemaining int       `json:"resends_remaining"`
}

func fromChallenge(ch *vmodels.Challenge) ChallengeResponse {
	return ChallengeResponse{
		Success:          true,
		CorrelationID:    ch.CorrelationID,
		Method:           string(ch.Method),
		ExpiresAt:        ch.ExpiresAt,
		ResendsRemaining: ch.RemainingResends(),
	}
}

// ConfirmResponse answers a successful materialization.
type ConfirmResponse struct {
	Success    bool   `json:"success"`
	ResidentID string `json:"resident_id"`
	Status     string `json:"status"`
}

func fromAccount(account *rmodels.ResidentAccount) ConfirmResponse {
	return ConfirmResponse{
		Success:    true,
		ResidentID: account.ResidentID,
		Status:     string(account.Status),
	}
}
