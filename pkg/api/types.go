package api

// RequestCodeRequest asks for a one-time code to be issued and dispatched
type RequestCodeRequest struct {
	Token      string `json:"token"`
	Mode       string `json:"mode"`
	UserId     string `json:"user_id,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	Channel    string `json:"channel,omitempty"`
}

// RequestCodeResponse reports a dispatched code
type RequestCodeResponse struct {
	Mode       string `json:"mode"`
	Channel    string `json:"channel"`
	Identifier string `json:"identifier"`
	ExpiresAt  string `json:"expires_at"`
	// Token is a fresh single-purpose token for the verify call
	Token string `json:"token"`
}

// VerifyCodeRequest submits a code for checking
type VerifyCodeRequest struct {
	Token      string `json:"token"`
	Mode       string `json:"mode"`
	UserId     string `json:"user_id,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	Channel    string `json:"channel,omitempty"`
	Code       string `json:"code"`
}

// VerifyCodeResponse reports a passed check
type VerifyCodeResponse struct {
	Mode        string `json:"mode"`
	UserId      string `json:"user_id"`
	RedirectUrl string `json:"redirect_url,omitempty"`
}

// SetIdentifierRequest stores a delivery identifier for a user
type SetIdentifierRequest struct {
	Token      string `json:"token"`
	UserId     string `json:"user_id"`
	Channel    string `json:"channel,omitempty"`
	Identifier string `json:"identifier"`
}

// SetIdentifierResponse reports the stored identifier and the mode that now
// gates the user, if any
type SetIdentifierResponse struct {
	Identifier string `json:"identifier"`
	Mode       string `json:"mode,omitempty"`
	Token      string `json:"token,omitempty"`
}

// SwitchTwoFactorRequest toggles two-factor for a user
type SwitchTwoFactorRequest struct {
	Token  string `json:"token"`
	UserId string `json:"user_id"`
	Active bool   `json:"active"`
}

// SwitchTwoFactorResponse confirms the new setting
type SwitchTwoFactorResponse struct {
	Active bool `json:"active"`
}

// DecisionResponse reports which mode gates the caller, plus a token to
// start the code flow with
type DecisionResponse struct {
	Mode        string `json:"mode,omitempty"`
	RedirectUrl string `json:"redirect_url,omitempty"`
	Token       string `json:"token,omitempty"`
}

// ErrorResponse is the envelope for all handler errors
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
