package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/token-faucet/internal/adapter"
	"github.com/token-faucet/internal/captcha"
	"github.com/token-faucet/internal/logging"
	"github.com/token-faucet/internal/service"
	"github.com/token-faucet/internal/types"
)

const dripSuccessMessage = "Transaction success, check your wallet for updated balance."

// handleDrip handles POST /api/transaction and POST /api/drip
func (s *Server) handleDrip(w http.ResponseWriter, r *http.Request) {
	var req types.DripRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	address := strings.TrimSpace(req.WalletAddress)
	if !adapter.ValidateAddress(address) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid wallet address", map[string]interface{}{
			"field": "walletAddress",
		})
		return
	}

	approved, err := s.captcha.Verify(r.Context(), req.CaptchaToken, clientAddr(r))
	if err != nil {
		if errors.Is(err, captcha.ErrMissingToken) {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Captcha token is required", map[string]interface{}{
				"field": "captchaToken",
			})
			return
		}
		logging.FromContext(r.Context()).WithError(err).Error("Captcha verification unavailable")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "An unexpected error occurred. Please try again later.", nil)
		return
	}

	result, err := s.dripService.Drip(r.Context(), &service.DripInput{
		Address:         address,
		CaptchaApproved: approved,
	})
	if err != nil {
		respondDripError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, types.APIResponse{
		Status:  true,
		Message: dripSuccessMessage,
		Data:    result,
	})
}

// clientAddr is the remote host passed along to captcha verification
func clientAddr(r *http.Request) string {
	if i := strings.LastIndex(r.RemoteAddr, ":"); i > 0 {
		return strings.Trim(r.RemoteAddr[:i], "[]")
	}
	return r.RemoteAddr
}
