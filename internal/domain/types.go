package domain

import "time"

// ListenerState models the microphone/transcription lifecycle.
type ListenerState string

const (
	ListenerStateIdle       ListenerState = "idle"
	ListenerStateConnecting ListenerState = "connecting"
	ListenerStateListening  ListenerState = "listening"
	ListenerStateStopping   ListenerState = "stopping"
	ListenerStateError      ListenerState = "error"
)

// ListenerReason provides a structured reason for listener transitions.
type ListenerReason string

const (
	ListenerReasonMicCold          ListenerReason = "mic_cold"
	ListenerReasonConnecting       ListenerReason = "connecting"
	ListenerReasonReady            ListenerReason = "ready"
	ListenerReasonRestarted        ListenerReason = "restarted"
	ListenerReasonReconnecting     ListenerReason = "reconnecting"
	ListenerReasonReconnected      ListenerReason = "reconnected"
	ListenerReasonStopped          ListenerReason = "stopped"
	ListenerReasonReadyTimeout     ListenerReason = "ready_timeout"
	ListenerReasonCaptureFailed    ListenerReason = "capture_failed"
	ListenerReasonConnectFailed    ListenerReason = "connect_failed"
	ListenerReasonRetriesExhausted ListenerReason = "retries_exhausted"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodeAudioCapture  ErrorCode = "audio_capture"
	ErrorCodeAudioStream   ErrorCode = "audio_stream"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeProtocol      ErrorCode = "protocol"
	ErrorCodeSynthesis     ErrorCode = "synthesis"
	ErrorCodePlayback      ErrorCode = "playback"
	ErrorCodeResponder     ErrorCode = "responder"
	ErrorCodeWatchdog      ErrorCode = "watchdog"
	ErrorCodeSettings      ErrorCode = "settings"
)

// TranscriptKind identifies the kind of event a transcription stream produced.
type TranscriptKind string

const (
	TranscriptKindReady   TranscriptKind = "ready"
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
	TranscriptKindError   TranscriptKind = "error"
)

// WordTiming is an optional per-word timestamp on committed transcripts.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// TranscriptEvent represents incremental transcription output from a provider.
type TranscriptEvent struct {
	Kind      TranscriptKind `json:"kind"`
	Text      string         `json:"text"`
	SessionID string         `json:"sessionId,omitempty"`
	Words     []WordTiming   `json:"words,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Utterance is a committed transcript after corrections and wake matching.
type Utterance struct {
	Raw            string    `json:"raw"`
	Corrected      string    `json:"corrected"`
	Normalized     string    `json:"normalized"`
	WakeDetected   bool      `json:"wakeDetected"`
	WakeAlias      string    `json:"wakeAlias,omitempty"`
	WakeConfidence float64   `json:"wakeConfidence"`
	Query          string    `json:"query"`
	Timestamp      time.Time `json:"timestamp"`
}

// Status summarizes the current listener status.
type Status struct {
	State   ListenerState `json:"state"`
	Active  bool          `json:"active"`
	Ready   bool          `json:"ready"`
	Message string        `json:"message,omitempty"`

	// LastTranscript is the most recent partial or committed text of the session.
	LastTranscript string `json:"lastTranscript,omitempty"`
}

// VoiceMode changes the tone and verbosity of generated speech.
type VoiceMode string

const (
	VoiceModeDefault VoiceMode = "default"
	VoiceModeMission VoiceMode = "mission"
)

// ParseVoiceMode returns the mode for s, defaulting to VoiceModeDefault.
func ParseVoiceMode(s string) (VoiceMode, bool) {
	switch VoiceMode(s) {
	case VoiceModeDefault:
		return VoiceModeDefault, true
	case VoiceModeMission:
		return VoiceModeMission, true
	default:
		return VoiceModeDefault, false
	}
}

// InterruptionState is the barge-in state machine position.
type InterruptionState string

const (
	InterruptionIdle        InterruptionState = "idle"
	InterruptionSpeaking    InterruptionState = "speaking"
	InterruptionListening   InterruptionState = "listening"
	InterruptionInterrupted InterruptionState = "interrupted"
)

// InterruptionEventType names structured interruption engine events.
type InterruptionEventType string

const (
	InterruptionEventTTSStarted    InterruptionEventType = "tts_started"
	InterruptionEventTTSEnded      InterruptionEventType = "tts_ended"
	InterruptionEventSpeechStarted InterruptionEventType = "speech_started"
	InterruptionEventSpeechEnded   InterruptionEventType = "speech_ended"
	InterruptionEventTriggered     InterruptionEventType = "interruption_triggered"
	InterruptionEventStateChanged  InterruptionEventType = "state_changed"
)

// InterruptionEvent is emitted by the interruption engine.
type InterruptionEvent struct {
	Type           InterruptionEventType `json:"type"`
	From           InterruptionState     `json:"from,omitempty"`
	To             InterruptionState     `json:"to,omitempty"`
	SpeechDuration time.Duration         `json:"speechDuration,omitempty"`
	Timestamp      time.Time             `json:"timestamp"`
}

// Severity ranks detector alerts.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Weight maps a severity onto 0..1 for urgency scoring.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityLow:
		return 0.25
	case SeverityMedium:
		return 0.5
	case SeverityHigh:
		return 0.8
	case SeverityCritical:
		return 1.0
	default:
		return 0
	}
}

// Component identifies one of the watchdog detectors.
type Component string

const (
	ComponentPressure     Component = "pressure"
	ComponentAnomaly      Component = "anomaly"
	ComponentFragility    Component = "fragility"
	ComponentManipulation Component = "manipulation"
	ComponentEntity       Component = "entity"
)

// Components lists every detector component in reporting order.
var Components = []Component{
	ComponentPressure,
	ComponentAnomaly,
	ComponentFragility,
	ComponentManipulation,
	ComponentEntity,
}

// AlertKey deduplicates alerts by type and subject entity.
type AlertKey struct {
	Type   string
	Entity string
}

// Alert is a single detector finding.
type Alert struct {
	ID              string    `json:"id"`
	Component       Component `json:"component"`
	Type            string    `json:"type"`
	Entity          string    `json:"entity"`
	Severity        Severity  `json:"severity"`
	Confidence      float64   `json:"confidence"`
	Narrative       string    `json:"narrative"`
	SuggestedAction string    `json:"suggestedAction,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// Key returns the deduplication key of the alert.
func (a Alert) Key() AlertKey {
	return AlertKey{Type: a.Type, Entity: a.Entity}
}

// Expired reports whether the alert is past its expiry at now.
func (a Alert) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}

// Urgency scores how pressing the alert narrative is, 0..1.
func (a Alert) Urgency() float64 {
	return a.Severity.Weight() * a.Confidence
}

// Reading is the latest output of one detector.
type Reading struct {
	Component Component `json:"component"`
	Score     float64   `json:"score"`
	HasData   bool      `json:"hasData"`
	Alerts    []Alert   `json:"alerts,omitempty"`
	ScannedAt time.Time `json:"scannedAt"`
}

// ThreatState is the discrete watchdog level.
type ThreatState string

const (
	ThreatStateIdle     ThreatState = "idle"
	ThreatStateScanning ThreatState = "scanning"
	ThreatStateAlert    ThreatState = "alert"
	ThreatStateCritical ThreatState = "critical"
)

// Synthesis is one watchdog tick combining every detector reading.
type Synthesis struct {
	ID            string                `json:"id"`
	ThreatLevel   float64               `json:"threatLevel"`
	State         ThreatState           `json:"state"`
	Components    map[Component]Reading `json:"components"`
	ActiveThreats int                   `json:"activeThreats"`
	ShouldSpeak   bool                  `json:"shouldSpeak"`
	SpeechText    string                `json:"speechText,omitempty"`
	Alerts        []Alert               `json:"alerts,omitempty"`
	Failures      map[Component]string  `json:"failures,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
}
