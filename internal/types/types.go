// Package types provides the request and response shapes shared by the faucet layers.
package types

// DripRequest is the body accepted by the drip endpoint
type DripRequest struct {
	WalletAddress string `json:"walletAddress"`
	CaptchaToken  string `json:"captchaToken"`
}

// DripResponse is the public result of a successful drip
type DripResponse struct {
	Address     string `json:"address"`
	TxReference string `json:"txReference"`
	TokenAmount string `json:"tokenAmount"`
	TokenSymbol string `json:"tokenSymbol"`
	ExplorerURL string `json:"explorerUrl"`
}

// APIResponse is the success envelope returned by the HTTP layer
type APIResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// HealthStatus reports the state of each dependency
type HealthStatus struct {
	Status       string            `json:"status"`
	Service      string            `json:"service"`
	Dependencies map[string]string `json:"dependencies"`
	QueueLength  int64             `json:"queueLength"`
	JobActive    bool              `json:"jobActive"`
}
