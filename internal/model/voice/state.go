package voice

// Phase enumerates the voice pipeline states.
type Phase string

const (
	// PhaseListening means the controller is waiting for a finalized
	// transcript from the client-side recognizer.
	PhaseListening Phase = "listening"
	// PhaseProcessing covers retrieval and prompt assembly for a turn.
	PhaseProcessing Phase = "processing"
	// PhaseSpeaking means response units are being forwarded for synthesis.
	PhaseSpeaking Phase = "speaking"
)

// Status is the externally visible controller state, pushed to the client on
// every transition.
type Status struct {
	Phase       Phase `json:"phase"`
	Interrupted bool  `json:"interrupted,omitempty"`
}
