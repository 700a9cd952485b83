package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeServerEvent parses one inbound text frame. A frame that is not
// valid JSON, has no type, or carries a malformed body for a recognized
// type returns an error. A well-formed frame of an unrecognized type
// returns UnknownEvent, never an error.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("invalid json frame: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("frame missing type")
	}

	decode := func(dst ServerEvent) (ServerEvent, error) {
		if err := json.Unmarshal(data, dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return dst, nil
	}

	switch typ {
	case "session.created":
		return decode(&SessionCreated{})
	case "session.updated":
		return decode(&SessionUpdated{})
	case "transcription_session.updated":
		return decode(&TranscriptionSessionUpdated{})
	case "conversation.item.created":
		return decode(&ConversationItemCreated{})
	case "conversation.item.deleted":
		return decode(&ConversationItemDeleted{})
	case "conversation.item.retrieved":
		return decode(&ConversationItemRetrieved{})
	case "conversation.item.input_audio_transcription.completed":
		return decode(&InputAudioTranscriptionCompleted{})
	case "conversation.item.input_audio_transcription.failed":
		return decode(&InputAudioTranscriptionFailed{})
	case "input_audio_buffer.committed":
		return decode(&InputAudioBufferCommitted{})
	case "input_audio_buffer.speech_started":
		return decode(&SpeechStarted{})
	case "input_audio_buffer.speech_stopped":
		return decode(&SpeechStopped{})
	case "response.created":
		return decode(&ResponseCreated{})
	case "response.output_item.added":
		return decode(&OutputItemAdded{})
	case "response.output_item.done":
		return decode(&OutputItemDone{})
	case "response.content_part.added":
		return decode(&ContentPartAdded{})
	case "response.content_part.done":
		return decode(&ContentPartDone{})
	case "response.text.delta":
		return decode(&TextDelta{})
	case "response.text.done":
		return decode(&TextDone{})
	case "response.audio.delta":
		return decode(&AudioDelta{})
	case "response.audio.done":
		return decode(&AudioDone{})
	case "response.audio_transcript.delta":
		return decode(&AudioTranscriptDelta{})
	case "response.audio_transcript.done":
		return decode(&AudioTranscriptDone{})
	case "response.function_call_arguments.done":
		return decode(&FunctionCallArgumentsDone{})
	case "response.done":
		return decode(&ResponseDone{})
	case "rate_limits.updated":
		return decode(&RateLimitsUpdated{})
	case "error":
		return decode(&ServerError{})
	default:
		return UnknownEvent{
			Type: typ,
			Raw:  append(json.RawMessage(nil), data...),
		}, nil
	}
}
