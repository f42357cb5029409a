package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mr-tron/base58"

	"title/internal/domain"
	"title/internal/infra/gatewayauth"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// maxEnvelopeBytes bounds an inbound POST body; the content itself never
// travels inline, only URIs and the gateway envelope do.
const maxEnvelopeBytes = 1 << 20

func (s *Server) handleNodeInfo(c *gin.Context) {
	info := domain.NodeInfo{
		SigningPubkey:       base58.Encode(s.env.SigningPubkey()),
		EncryptionPubkey:    base64.StdEncoding.EncodeToString(s.env.EncryptionPubkey()),
		TeeType:             s.env.TeeType(),
		SupportedExtensions: s.registry.SupportedExtensions(),
		Limits: domain.NodeLimits{
			MaxSingleContentBytes: s.maxSingleContentBytes,
			MaxConcurrentBytes:    s.maxConcurrentBytes,
		},
	}
	if info.SupportedExtensions == nil {
		info.SupportedExtensions = []string{}
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleVerify(c *gin.Context) {
	if !s.admit(c) {
		return
	}
	body, budget, ok := s.authenticate(c)
	if !ok {
		return
	}

	var req domain.VerifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "malformed verify request")
		return
	}

	resp, err := s.verifyUC.Execute(c.Request.Context(), req, budget)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSign(c *gin.Context) {
	if !s.admit(c) {
		return
	}
	body, budget, ok := s.authenticate(c)
	if !ok {
		return
	}

	var req domain.SignRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "malformed sign request")
		return
	}

	resp, err := s.signUC.Execute(c.Request.Context(), req, budget)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreateTree(c *gin.Context) {
	if !s.admit(c) {
		return
	}
	body, _, ok := s.authenticate(c)
	if !ok {
		return
	}

	var req domain.CreateTreeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "malformed create-tree request")
		return
	}

	resp, err := s.treeUC.Execute(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// authenticate reads the raw body and runs the gateway signature check,
// returning the client body and the resolved budget.
func (s *Server) authenticate(c *gin.Context) (json.RawMessage, domain.ResolvedBudget, bool) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEnvelopeBytes+1))
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "unreadable body")
		return nil, domain.ResolvedBudget{}, false
	}
	if len(raw) > maxEnvelopeBytes {
		writeErrorCode(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request envelope too large")
		return nil, domain.ResolvedBudget{}, false
	}

	body, budget, err := gatewayauth.Verify(s.gatewayPubkey, raw)
	if err != nil {
		writeError(c, err)
		return nil, domain.ResolvedBudget{}, false
	}
	return body, domain.ResolveBudget(budget), true
}

// admit applies the per-caller rate limit ahead of any work. The key is
// the gateway identity when auth is on, else the peer address.
func (s *Server) admit(c *gin.Context) bool {
	if s.rateLimiter == nil || s.rateLimitRequests <= 0 {
		return true
	}
	key := s.cfg.GatewayPubkey
	if key == "" {
		key = c.ClientIP()
	}

	decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
	if err != nil {
		if s.rateLimitFailClosed {
			writeErrorCode(c, http.StatusServiceUnavailable, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
			return false
		}
		return true
	}
	if !decision.Allowed {
		retry := time.Until(decision.ResetAt)
		if retry > 0 {
			c.Header("Retry-After", retry.Truncate(time.Second).String())
		}
		writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "request rate exceeded")
		return false
	}
	return true
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrBadRequest):
		status, code = http.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrRejectedSignature):
		status, code = http.StatusForbidden, "REJECTED_SIGNATURE"
	case errors.Is(err, domain.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, domain.ErrInvalidState):
		status, code = http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, domain.ErrPayloadTooLarge):
		status, code = http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"
	case errors.Is(err, domain.ErrResourceExhausted):
		status, code = http.StatusServiceUnavailable, "RESOURCE_EXHAUSTED"
	case errors.Is(err, domain.ErrDeadline):
		status, code = http.StatusGatewayTimeout, "DEADLINE"
	case errors.Is(err, domain.ErrSlowPeer):
		status, code = http.StatusRequestTimeout, "SLOW_PEER"
	case errors.Is(err, domain.ErrDecrypt):
		status, code = http.StatusBadRequest, "DECRYPT"
	case errors.Is(err, domain.ErrVerification):
		status, code = http.StatusUnprocessableEntity, "VERIFICATION"
	case errors.Is(err, domain.ErrWasm):
		status, code = http.StatusUnprocessableEntity, "WASM"
	case errors.Is(err, domain.ErrProxy):
		status, code = http.StatusBadGateway, "PROXY"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Code: code, Message: message})
}
