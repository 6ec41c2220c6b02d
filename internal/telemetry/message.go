package telemetry

import (
	"time"

	"gazepointer/internal/pipeline"
)

// Message types
const (
	TypeFrame  = "frame"
	TypeReport = "report"
)

// FrameMessage carries one frame result
type FrameMessage struct {
	Type      string                `json:"type"` // "frame"
	Timestamp time.Time             `json:"timestamp"`
	Result    *pipeline.FrameResult `json:"result"`
}

// NewFrameMessage wraps a frame result
func NewFrameMessage(res *pipeline.FrameResult) *FrameMessage {
	return &FrameMessage{
		Type:      TypeFrame,
		Timestamp: time.Now(),
		Result:    res,
	}
}

// ReportMessage carries the end-of-run report
type ReportMessage struct {
	Type      string           `json:"type"` // "report"
	Timestamp time.Time        `json:"timestamp"`
	Report    *pipeline.Report `json:"report"`
}

// NewReportMessage wraps a run report
func NewReportMessage(report *pipeline.Report) *ReportMessage {
	return &ReportMessage{
		Type:      TypeReport,
		Timestamp: time.Now(),
		Report:    report,
	}
}
