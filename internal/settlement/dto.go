package settlement

import "time"

// SubmitSettlementRequest represents the request to submit a settlement
type SubmitSettlementRequest struct {
	IdempotencyKey string `json:"idempotency_key" validate:"required"`
	SourceChain    string `json:"source_chain" validate:"required"`
	DestChain      string `json:"dest_chain" validate:"required"`
	Account        string `json:"account" validate:"required"`
	Amount         int64  `json:"amount" validate:"required"` // minor units
}

// SettlementResponse represents the response for a settlement
type SettlementResponse struct {
	SettlementID    string `json:"settlement_id"`
	IdempotencyKey  string `json:"idempotency_key"`
	SourceChain     string `json:"source_chain"`
	DestChain       string `json:"dest_chain"`
	Account         string `json:"account"`
	Amount          int64  `json:"amount"`
	Status          Status `json:"status"`
	BurnRef         string `json:"burn_ref,omitempty"`
	MintRef         string `json:"mint_ref,omitempty"`
	CompensationRef string `json:"compensation_ref,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// OutcomeResponse represents the result of a process or retry call
type OutcomeResponse struct {
	Outcome    OutcomeCode         `json:"outcome"`
	Reason     string              `json:"reason,omitempty"`
	Settlement *SettlementResponse `json:"settlement,omitempty"`
}

// ToResponse converts a Settlement model to a SettlementResponse DTO
func (s *Settlement) ToResponse() *SettlementResponse {
	return &SettlementResponse{
		SettlementID:    s.SettlementID,
		IdempotencyKey:  s.IdempotencyKey,
		SourceChain:     s.SourceChain,
		DestChain:       s.DestChain,
		Account:         s.Account,
		Amount:          s.Amount,
		Status:          s.Status,
		BurnRef:         s.BurnRef,
		MintRef:         s.MintRef,
		CompensationRef: s.CompensationRef,
		ErrorMessage:    s.ErrorMessage,
		CreatedAt:       s.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:       s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// ToResponse converts an Outcome to an OutcomeResponse DTO
func (o *Outcome) ToResponse() *OutcomeResponse {
	resp := &OutcomeResponse{
		Outcome: o.Code,
		Reason:  o.Reason,
	}
	if o.Settlement != nil {
		resp.Settlement = o.Settlement.ToResponse()
	}
	return resp
}
