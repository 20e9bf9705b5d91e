package handler

import (
	service "civica/internal/registration/service"
	vmodels "civica/internal/verification/models"
)

// StartRequest is the signup submission that opens a verification flow.
type StartRequest struct {
	Method      string `json:"method"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`
	Password    string `json:"password"`
	AddressLine string `json:"address_line,omitempty"`
	Barangay    string `json:"barangay,omitempty"`
	City        string `json:"city,omitempty"`
	ContinueURL string `json:"continue_url,omitempty"`
}

func (r StartRequest) toInput() service.StartInput {
	return service.StartInput{
		Method:      vmodels.Method(r.Method),
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Email:       r.Email,
		Phone:       r.Phone,
		Password:    r.Password,
		AddressLine: r.AddressLine,
		Barangay:    r.Barangay,
		City:        r.City,
		ContinueURL: r.ContinueURL,
	}
}

// ResendRequest asks for a fresh code or link under an open flow.
type ResendRequest struct {
	CorrelationID string `json:"correlation_id"`
}

// ConfirmRequest presents proof and asks for the account to be created.
// Code is omitted for link flows.
type ConfirmRequest struct {
	CorrelationID string `json:"correlation_id"`
	Code          string `json:"code,omitempty"`
}
