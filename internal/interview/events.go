package interview

import (
	"time"

	"github.com/careerpath/interviewcoach/server/domain/entities"
)

// Event is anything processed by the session loop
type Event interface {
	Type() string
}

// FrameInput is one detector frame as reported by the client
type FrameInput struct {
	// ClientTime is the detector's monotonic timestamp; zero means unknown.
	ClientTime     time.Duration
	HandPresent    bool
	FacePresent    bool
	PosePresent    bool
	EyeContactLost bool
	PostureBad     bool
}

type (
	startEvent struct {
		budgetMinutes int
	}
	tickEvent  struct{}
	frameEvent struct {
		frame FrameInput
	}
	transcriptEvent struct {
		seq     uint64
		segment entities.TranscriptSegment
	}
	recognitionEndedEvent struct {
		seq uint64
		err error
	}
	captureUnavailableEvent struct {
		reason string
	}
	speechStartedEvent struct{}
	speechEndedEvent   struct {
		utteranceID string
	}
	synthesisFailedEvent struct {
		utteranceID string
		err         error
	}
	listenEvent struct {
		start bool
	}
	submitEvent struct {
		text string
	}
	retryEvent   struct{}
	dismissEvent struct {
		id string
	}
	replyEvent struct {
		generation uint64
		reply      string
		err        error
	}
	endEvent struct {
		reason entities.EndReason
	}
	attachEvent struct {
		sink Sink
	}
	detachEvent struct {
		sink Sink
	}
	snapshotEvent struct {
		out chan<- *entities.InterviewSession
	}
)

func (startEvent) Type() string              { return "start" }
func (tickEvent) Type() string               { return "tick" }
func (frameEvent) Type() string              { return "frame" }
func (transcriptEvent) Type() string         { return "transcript" }
func (recognitionEndedEvent) Type() string   { return "recognition_ended" }
func (captureUnavailableEvent) Type() string { return "capture_unavailable" }
func (speechStartedEvent) Type() string      { return "speech_started" }
func (speechEndedEvent) Type() string        { return "speech_ended" }
func (synthesisFailedEvent) Type() string    { return "synthesis_failed" }
func (listenEvent) Type() string             { return "listen" }
func (submitEvent) Type() string             { return "submit" }
func (retryEvent) Type() string              { return "retry" }
func (dismissEvent) Type() string            { return "dismiss_feedback" }
func (replyEvent) Type() string              { return "reply" }
func (endEvent) Type() string                { return "end" }
func (attachEvent) Type() string             { return "attach" }
func (detachEvent) Type() string             { return "detach" }
func (snapshotEvent) Type() string           { return "snapshot" }
