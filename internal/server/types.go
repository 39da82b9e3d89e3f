package server

// Response is the envelope of every successful reply.
type Response struct {
	Error   bool    `json:"error"`
	Message *string `json:"message"`
	Data    any     `json:"data"`
}

// ErrorResponse is returned for failed requests. Code is set for domain
// errors only.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// MatchRequest carries two base64 templates.
type MatchRequest struct {
	DigitalCaptured  string `json:"digitalCaptured"`
	DigitalToCompare string `json:"digitalToCompare"`
}

// EnrollRequest carries a fingerprint image as plain base64 or a data URL.
type EnrollRequest struct {
	Image string `json:"image"`
}

type DeviceInfo struct {
	ID         int     `json:"id"`
	Name       string  `json:"name"`
	Family     string  `json:"family"`
	Policy     string  `json:"policy"`
	Threshold  float64 `json:"threshold"`
	MinQuality int     `json:"min_quality"`
}

type CaptureStatus struct {
	State    string `json:"state"`
	Captured bool   `json:"captured"`
}
