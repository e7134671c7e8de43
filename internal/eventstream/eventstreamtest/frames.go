// Package eventstreamtest builds upstream wire frames for tests.
package eventstreamtest

import (
	"bytes"
	"encoding/json"

	awsstream "github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
)

// Frame encodes one event frame carrying payload.
func Frame(eventType, payload string) []byte {
	return encode("event", eventType, []byte(payload))
}

// Exception encodes an exception frame with a JSON message body.
func Exception(exceptionType, message string) []byte {
	body, _ := json.Marshal(map[string]string{"message": message})
	var h awsstream.Headers
	h.Set(":message-type", awsstream.StringValue("exception"))
	h.Set(":exception-type", awsstream.StringValue(exceptionType))
	h.Set(":content-type", awsstream.StringValue("application/json"))
	return mustEncode(awsstream.Message{Headers: h, Payload: body})
}

// Content encodes an assistant text event.
func Content(text string) []byte {
	return jsonFrame("assistantResponseEvent", map[string]any{"content": text})
}

// ToolStart encodes the opening event of a tool call.
func ToolStart(name, id string) []byte {
	return jsonFrame("toolUseEvent", map[string]any{"name": name, "toolUseId": id})
}

// ToolInput encodes one fragment of tool call arguments.
func ToolInput(fragment string) []byte {
	return jsonFrame("toolUseEvent", map[string]any{"input": fragment})
}

// ToolStop encodes the closing event of a tool call.
func ToolStop() []byte {
	return jsonFrame("toolUseEvent", map[string]any{"stop": true})
}

// Usage encodes a metering event.
func Usage(units float64) []byte {
	return jsonFrame("meteringEvent", map[string]any{"usage": units})
}

// ContextUsage encodes a context window usage event.
func ContextUsage(percent float64) []byte {
	return jsonFrame("contextUsageEvent", map[string]any{"contextUsagePercentage": percent})
}

// Join concatenates frames into one stream body.
func Join(frames ...[]byte) []byte {
	return bytes.Join(frames, nil)
}

func jsonFrame(eventType string, v any) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return encode("event", eventType, body)
}

func encode(messageType, eventType string, payload []byte) []byte {
	var h awsstream.Headers
	h.Set(":message-type", awsstream.StringValue(messageType))
	h.Set(":event-type", awsstream.StringValue(eventType))
	h.Set(":content-type", awsstream.StringValue("application/json"))
	return mustEncode(awsstream.Message{Headers: h, Payload: payload})
}

func mustEncode(msg awsstream.Message) []byte {
	var buf bytes.Buffer
	if err := awsstream.NewEncoder().Encode(&buf, msg); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
