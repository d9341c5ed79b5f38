package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cardiovision-risk-engine/internal/domain"
	"github.com/cardiovision-risk-engine/internal/middleware"
)

// errorResponse is the envelope for every non-2xx answer
type errorResponse struct {
	Error      *domain.APIError        `json:"error"`
	Validation *domain.ValidationError `json:"validation,omitempty"`
	Transform  *domain.TransformError  `json:"transform,omitempty"`
}

// statusFor maps an error category to an HTTP status and error code
func statusFor(err error) (int, string) {
	var (
		validationErr *domain.ValidationError
		transformErr  *domain.TransformError
		notFoundErr   *domain.ModelNotFoundError
	)
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusRequestTimeout, domain.ErrTimeout
	}
	switch domain.CategoryOf(err) {
	case domain.CategoryInput:
		if errors.As(err, &validationErr) {
			return http.StatusUnprocessableEntity, domain.ErrValidation
		}
		return http.StatusUnprocessableEntity, domain.ErrInvalidInput
	case domain.CategoryArtifact:
		switch {
		case errors.As(err, &transformErr):
			return http.StatusServiceUnavailable, domain.ErrTransform
		case errors.As(err, &notFoundErr):
			return http.StatusServiceUnavailable, domain.ErrModelNotFound
		}
		return http.StatusServiceUnavailable, domain.ErrArtifact
	case domain.CategoryExplainability:
		return http.StatusServiceUnavailable, domain.ErrExplainerUnavailable
	default:
		return http.StatusInternalServerError, domain.ErrInternalServer
	}
}

// writeError renders a pipeline error. Internal details are logged, not returned.
func (s *Server) writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	requestID := c.GetString(middleware.CorrelationKey)

	body := errorResponse{}
	message := err.Error()
	switch status {
	case http.StatusUnprocessableEntity:
		s.deps.Logger.WithFields(logrus.Fields{
			"correlation_id": requestID,
			"error":          err,
		}).Info("Patient record rejected")
		errors.As(err, &body.Validation)
		message = "Patient record failed validation"
	case http.StatusServiceUnavailable:
		s.deps.Logger.WithFields(logrus.Fields{
			"correlation_id": requestID,
			"error":          err,
		}).Warn("Deployment artifacts rejected the request")
		errors.As(err, &body.Transform)
	case http.StatusRequestTimeout:
		s.deps.Logger.WithField("correlation_id", requestID).Warn("Request deadline passed during risk calculation")
		message = "Request timeout"
	default:
		s.deps.Logger.WithFields(logrus.Fields{
			"correlation_id": requestID,
			"error":          err,
		}).Error("Risk calculation failed")
		message = "Risk calculation failed"
	}

	details := ""
	if status != http.StatusInternalServerError {
		details = err.Error()
	}
	body.Error = domain.NewAPIError(code, message, details, requestID)
	c.AbortWithStatusJSON(status, body)
}

func (s *Server) respond(c *gin.Context, status int, code, message, details string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Error: domain.NewAPIError(code, message, details, c.GetString(middleware.CorrelationKey)),
	})
}

func (s *Server) badRequest(c *gin.Context, message string, err error) {
	s.respond(c, http.StatusBadRequest, domain.ErrInvalidInput, message, err.Error())
}
