package metrics

import (
	"context"
	"time"
)

// Recorder is what tasks hand their history to
type Recorder interface {
	RecordFrame(ctx context.Context, snapshot *FrameSnapshot) error
	RecordFault(ctx context.Context, fault *FaultRecord) error
	Close() error
}

// Repository defines the interface for metrics data storage
type Repository interface {
	StoreFrame(snapshot *FrameSnapshot) error
	StoreFault(fault *FaultRecord) error
	Close() error
}

// FrameSnapshot is one rendered gauge frame
type FrameSnapshot struct {
	Timestamp     time.Time
	Value         float64
	FillLevel     int
	StepperTarget float64
	BacklightOn   bool
}

// FaultRecord is one fault the supervisor received
type FaultRecord struct {
	Timestamp time.Time
	Subsystem string
	Cause     string
	Severity  string
	Message   string
}
