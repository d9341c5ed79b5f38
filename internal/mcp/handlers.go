package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/cardiovision-risk-engine/internal/domain"
	"github.com/cardiovision-risk-engine/internal/feedback"
)

// Tool names
const (
	ToolCalculateRisk  = "calculate_heart_attack_risk"
	ToolValidateRecord = "validate_patient_record"
	ToolDescribeModel  = "describe_model"
	ToolSubmitFeedback = "submit_assessment_feedback"
	ToolExportFeedback = "export_feedback"
)

// ToolNames lists every registered tool
var ToolNames = []string{
	ToolCalculateRisk,
	ToolValidateRecord,
	ToolDescribeModel,
	ToolSubmitFeedback,
	ToolExportFeedback,
}

// PatientRecordParams carries one patient record
type PatientRecordParams struct {
	Record domain.PatientRecord `json:"record" jsonschema:"patient record grouped into sections such as PatientInfo, VitalParameters and LaboratoryValues"`
}

// DescribeModelParams takes no arguments
type DescribeModelParams struct{}

// SubmitFeedbackParams defines parameters for submit_assessment_feedback
type SubmitFeedbackParams struct {
	AssessmentID   string   `json:"assessment_id" jsonschema:"id of the assessment being reviewed"`
	ClinicianLabel string   `json:"clinician_label" jsonschema:"the reviewer's label: High Risk or Low Risk"`
	PredictedLabel string   `json:"predicted_label,omitempty" jsonschema:"label the model produced, looked up when omitted"`
	Probability    *float64 `json:"probability,omitempty" jsonschema:"probability the model produced, looked up when omitted"`
	Reviewer       string   `json:"reviewer,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

// ExportFeedbackParams defines parameters for export_feedback
type ExportFeedbackParams struct {
	Inline bool `json:"inline,omitempty" jsonschema:"return the export in the response instead of writing a file"`
}

// ValidationResult is returned by validate_patient_record
type ValidationResult struct {
	Valid    bool                    `json:"valid"`
	Features domain.FeatureVector    `json:"features,omitempty"`
	Errors   *domain.ValidationError `json:"errors,omitempty"`
	Message  string                  `json:"message,omitempty"`
}

// handleCalculateRisk handles the calculate_heart_attack_risk tool invocation
func (s *LiteServer) handleCalculateRisk(ctx context.Context, req *mcp.CallToolRequest, params PatientRecordParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolCalculateRisk).Info("Tool invoked")

	if len(params.Record) == 0 {
		return s.createErrorResult("Missing required parameter", errors.New("record is required")), nil, nil
	}

	result, err := s.risk.CalculateRisk(ctx, params.Record)
	if err != nil {
		return s.createErrorResult(failureMessage(err), err), nil, nil
	}

	if err := s.recent.Put(ctx, result.ID, result); err != nil {
		s.logger.WithError(err).WithField("assessment_id", result.ID).Warn("Failed to keep recent result")
	}

	summary := fmt.Sprintf("%s (probability %.1f%%, assessment %s)\n\n%s",
		result.RiskLabel, result.Probability*100, result.ID, result.ExplanationText)
	return textResult(summary, result), nil, nil
}

// handleValidateRecord handles the validate_patient_record tool invocation
func (s *LiteServer) handleValidateRecord(ctx context.Context, req *mcp.CallToolRequest, params PatientRecordParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolValidateRecord).Info("Tool invoked")

	fv, err := s.risk.ValidateRecord(ctx, params.Record)
	if err == nil {
		return textResult("Patient record is valid", ValidationResult{Valid: true, Features: fv}), nil, nil
	}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return textResult("Patient record is invalid: "+verr.Error(), ValidationResult{Errors: verr, Message: verr.Error()}), nil, nil
	}
	return s.createErrorResult(failureMessage(err), err), nil, nil
}

// handleDescribeModel handles the describe_model tool invocation
func (s *LiteServer) handleDescribeModel(ctx context.Context, req *mcp.CallToolRequest, params DescribeModelParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolDescribeModel).Debug("Tool invoked")

	desc := s.risk.DescribeModel()
	summary := fmt.Sprintf("%s model %s explained by %s, High Risk above %.2f",
		desc.ModelKind, desc.ModelVersion, desc.Explainer, desc.RiskThreshold)
	return textResult(summary, desc), nil, nil
}

// handleSubmitFeedback handles the submit_assessment_feedback tool invocation
func (s *LiteServer) handleSubmitFeedback(ctx context.Context, req *mcp.CallToolRequest, params SubmitFeedbackParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolSubmitFeedback).Info("Tool invoked")

	fb := &feedback.Feedback{
		AssessmentID:   params.AssessmentID,
		PredictedLabel: domain.RiskLabel(params.PredictedLabel),
		ClinicianLabel: domain.RiskLabel(params.ClinicianLabel),
		Reviewer:       params.Reviewer,
		Notes:          params.Notes,
	}
	if params.Probability != nil {
		fb.Probability = *params.Probability
	}
	if fb.PredictedLabel == "" || params.Probability == nil {
		if original, err := s.recent.Get(ctx, params.AssessmentID); err == nil {
			fb.PredictedLabel = original.RiskLabel
			fb.Probability = original.Probability
			fb.ModelVersion = original.ModelVersion
		}
	}

	if err := s.feedbackStore.Save(ctx, fb); err != nil {
		return s.createErrorResult("Feedback was not saved", err), nil, nil
	}

	s.logger.WithFields(logrus.Fields{
		"assessment_id": fb.AssessmentID,
		"agrees":        fb.Agrees,
	}).Info("Clinician feedback recorded")

	verdict := "disagrees with"
	if fb.Agrees {
		verdict = "agrees with"
	}
	return textResult(fmt.Sprintf("Feedback saved: reviewer %s the %s prediction", verdict, fb.PredictedLabel), fb), nil, nil
}

// handleExportFeedback handles the export_feedback tool invocation
func (s *LiteServer) handleExportFeedback(ctx context.Context, req *mcp.CallToolRequest, params ExportFeedbackParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolExportFeedback).Info("Tool invoked")

	var buf bytes.Buffer
	if err := s.feedbackStore.ExportJSON(ctx, &buf); err != nil {
		return s.createErrorResult("Export failed", err), nil, nil
	}

	if params.Inline {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: buf.String()}},
		}, nil, nil
	}

	name := fmt.Sprintf("feedback-%s.json", time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(s.config.ExportDir(), name)
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return s.createErrorResult("Export failed", err), nil, nil
	}

	s.logger.WithField("path", path).Info("Feedback exported")
	return textResult("Feedback exported to "+path, map[string]string{"path": path}), nil, nil
}

// textResult renders a summary line followed by the payload as JSON.
func textResult(summary string, payload interface{}) *mcp.CallToolResult {
	content := []mcp.Content{&mcp.TextContent{Text: summary}}
	if data, err := json.MarshalIndent(payload, "", "  "); err == nil {
		content = append(content, &mcp.TextContent{Text: string(data)})
	}
	return &mcp.CallToolResult{Content: content}
}

// createErrorResult creates an error result for tool invocations
func (s *LiteServer) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := message
	if err != nil {
		errorText = fmt.Sprintf("%s: %v", message, err)
	}
	s.logger.WithError(err).Warn(message)

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}

// failureMessage maps an error category to a short message for the client
func failureMessage(err error) string {
	switch domain.CategoryOf(err) {
	case domain.CategoryInput:
		return "Patient record failed validation"
	case domain.CategoryArtifact:
		return "Deployment artifacts rejected the record"
	case domain.CategoryExplainability:
		return "No explainer is available"
	default:
		return "Risk calculation failed"
	}
}
