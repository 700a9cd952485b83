// Package protocol defines the wire vocabulary for the realtime guidance
// endpoint: a duplex socket exchanging JSON text frames, each carrying an
// event_id, a type, and a client_timestamp alongside type-specific fields.
//
// Inbound frames decode into a closed set of typed events via
// DecodeServerEvent; a frame with an unrecognized type decodes into
// UnknownEvent rather than failing, so protocol additions on the remote
// side never break a deployed client.
package protocol

import (
	"encoding/json"
	"time"
)

// ServerEvent is implemented by every event the session can emit to
// subscribers: wire events from the remote side plus the session's own
// lifecycle events (connected, disconnected, reconnecting).
type ServerEvent interface {
	// EventType returns the event type string as it appears on the wire.
	EventType() string
}

// ClientEvent is implemented by every outbound frame.
type ClientEvent interface {
	EventType() string
}

// Envelope carries the fields common to every outbound frame. The session
// stamps EventID and ClientTimestamp at send time.
type Envelope struct {
	EventID         string `json:"event_id"`
	Type            string `json:"type"`
	ClientTimestamp int64  `json:"client_timestamp"`
}

// SessionInfo is the session object carried by session.created.
type SessionInfo struct {
	ID        string `json:"id"`
	Model     string `json:"model,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// RateLimits is the quota snapshot pushed by rate_limits.updated.
type RateLimits struct {
	ConcurrentRequests int   `json:"concurrent_requests"`
	Remaining          int   `json:"remaining"`
	ResetTime          int64 `json:"reset_time"`
}

// ItemInfo describes a conversation or response output item.
type ItemInfo struct {
	ID     string `json:"id"`
	Type   string `json:"type,omitempty"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"`
}

// PartInfo describes a content part announced by the remote side.
type PartInfo struct {
	Type string `json:"type"`
}

// ResponseInfo describes a response in response.created / response.done.
type ResponseInfo struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// ErrorInfo is the error object carried by the wire error event.
type ErrorInfo struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Inbound events.

type SessionCreated struct {
	Session SessionInfo `json:"session"`
}

func (SessionCreated) EventType() string { return "session.created" }

type SessionUpdated struct {
	Session json.RawMessage `json:"session"`
}

func (SessionUpdated) EventType() string { return "session.updated" }

type TranscriptionSessionUpdated struct {
	Session json.RawMessage `json:"session"`
}

func (TranscriptionSessionUpdated) EventType() string { return "transcription_session.updated" }

type ConversationItemCreated struct {
	Item ItemInfo `json:"item"`
}

func (ConversationItemCreated) EventType() string { return "conversation.item.created" }

type ConversationItemDeleted struct {
	ItemID string `json:"item_id"`
}

func (ConversationItemDeleted) EventType() string { return "conversation.item.deleted" }

type ConversationItemRetrieved struct {
	Item ItemInfo `json:"item"`
}

func (ConversationItemRetrieved) EventType() string { return "conversation.item.retrieved" }

type InputAudioTranscriptionCompleted struct {
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

func (InputAudioTranscriptionCompleted) EventType() string {
	return "conversation.item.input_audio_transcription.completed"
}

type InputAudioTranscriptionFailed struct {
	ItemID string    `json:"item_id"`
	Error  ErrorInfo `json:"error"`
}

func (InputAudioTranscriptionFailed) EventType() string {
	return "conversation.item.input_audio_transcription.failed"
}

type InputAudioBufferCommitted struct {
	ItemID string `json:"item_id,omitempty"`
}

func (InputAudioBufferCommitted) EventType() string { return "input_audio_buffer.committed" }

type SpeechStarted struct {
	AudioStartMS int64 `json:"audio_start_ms,omitempty"`
}

func (SpeechStarted) EventType() string { return "input_audio_buffer.speech_started" }

type SpeechStopped struct {
	AudioEndMS int64 `json:"audio_end_ms,omitempty"`
}

func (SpeechStopped) EventType() string { return "input_audio_buffer.speech_stopped" }

type ResponseCreated struct {
	Response ResponseInfo `json:"response"`
}

func (ResponseCreated) EventType() string { return "response.created" }

type OutputItemAdded struct {
	ResponseID  string   `json:"response_id"`
	OutputIndex int      `json:"output_index"`
	Item        ItemInfo `json:"item"`
}

func (OutputItemAdded) EventType() string { return "response.output_item.added" }

type OutputItemDone struct {
	ResponseID  string   `json:"response_id"`
	OutputIndex int      `json:"output_index"`
	Item        ItemInfo `json:"item"`
}

func (OutputItemDone) EventType() string { return "response.output_item.done" }

type ContentPartAdded struct {
	ResponseID   string   `json:"response_id"`
	ItemID       string   `json:"item_id"`
	ContentIndex int      `json:"content_index"`
	Part         PartInfo `json:"part"`
}

func (ContentPartAdded) EventType() string { return "response.content_part.added" }

type ContentPartDone struct {
	ResponseID   string   `json:"response_id"`
	ItemID       string   `json:"item_id"`
	ContentIndex int      `json:"content_index"`
	Part         PartInfo `json:"part"`
}

func (ContentPartDone) EventType() string { return "response.content_part.done" }

type TextDelta struct {
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

func (TextDelta) EventType() string { return "response.text.delta" }

type TextDone struct {
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Text         string `json:"text"`
}

func (TextDone) EventType() string { return "response.text.done" }

type AudioDelta struct {
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	// Delta is base64-encoded little-endian 16-bit PCM.
	Delta string `json:"delta"`
}

func (AudioDelta) EventType() string { return "response.audio.delta" }

type AudioDone struct {
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
}

func (AudioDone) EventType() string { return "response.audio.done" }

type AudioTranscriptDelta struct {
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

func (AudioTranscriptDelta) EventType() string { return "response.audio_transcript.delta" }

type AudioTranscriptDone struct {
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

func (AudioTranscriptDone) EventType() string { return "response.audio_transcript.done" }

type FunctionCallArgumentsDone struct {
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	CallID     string `json:"call_id,omitempty"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
}

func (FunctionCallArgumentsDone) EventType() string { return "response.function_call_arguments.done" }

type ResponseDone struct {
	Response ResponseInfo `json:"response"`
}

func (ResponseDone) EventType() string { return "response.done" }

type RateLimitsUpdated struct {
	RateLimits RateLimits `json:"rate_limits"`
}

func (RateLimitsUpdated) EventType() string { return "rate_limits.updated" }

type ServerError struct {
	Error ErrorInfo `json:"error"`
}

func (ServerError) EventType() string { return "error" }

// UnknownEvent preserves a frame whose type the client does not recognize.
// Raw holds the complete original frame.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) EventType() string { return "unknown_event" }

// Outbound events.

// NoiseReduction configures remote-side input denoising.
type NoiseReduction struct {
	Type string `json:"type"`
}

// TurnDetection configures remote-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
	InterruptResponse bool    `json:"interrupt_response"`
}

// SessionConfigPayload is the session object sent with session.update.
type SessionConfigPayload struct {
	InputAudioFormat         string         `json:"input_audio_format"`
	InputAudioNoiseReduction NoiseReduction `json:"input_audio_noise_reduction"`
	Modalities               []string       `json:"modalities"`
	TurnDetection            TurnDetection  `json:"turn_detection"`
	SystemPrompt             string         `json:"system_prompt,omitempty"`
}

type SessionUpdate struct {
	Envelope
	Session SessionConfigPayload `json:"session"`
}

func (SessionUpdate) EventType() string { return "session.update" }

// MessageContent is one content block inside a conversation item.
type MessageContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ConversationItem is the item object sent with conversation.item.create.
type ConversationItem struct {
	ID      string           `json:"id"`
	Type    string           `json:"type"`
	Object  string           `json:"object"`
	Status  string           `json:"status"`
	Role    string           `json:"role"`
	Content []MessageContent `json:"content"`
}

type ConversationItemCreate struct {
	Envelope
	Item ConversationItem `json:"item"`
}

func (ConversationItemCreate) EventType() string { return "conversation.item.create" }

type ResponseCreate struct {
	Envelope
}

func (ResponseCreate) EventType() string { return "response.create" }

// AudioPayload is the audio object sent with input_audio_buffer.append.
type AudioPayload struct {
	Data       string `json:"data"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

type InputAudioBufferAppend struct {
	Envelope
	Audio AudioPayload `json:"audio"`
}

func (InputAudioBufferAppend) EventType() string { return "input_audio_buffer.append" }

// VideoFramePayload is the video object sent with
// input_audio_buffer.append_video_frame.
type VideoFramePayload struct {
	Data      string `json:"data"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Timestamp int64  `json:"timestamp"`
}

type InputAudioBufferAppendVideoFrame struct {
	Envelope
	Video VideoFramePayload `json:"video"`
}

func (InputAudioBufferAppendVideoFrame) EventType() string {
	return "input_audio_buffer.append_video_frame"
}

type InputAudioBufferCommit struct {
	Envelope
}

func (InputAudioBufferCommit) EventType() string { return "input_audio_buffer.commit" }

type InputAudioBufferClear struct {
	Envelope
}

func (InputAudioBufferClear) EventType() string { return "input_audio_buffer.clear" }

// UnixMilli returns t as milliseconds since the epoch, the timestamp unit
// used for client_timestamp and video frame timestamps.
func UnixMilli(t time.Time) int64 { return t.UnixMilli() }
