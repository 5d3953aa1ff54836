package webhook

import "encoding/json"

const (
	EventAppInstalled = "AppInstalled"
	EventAppRemoved   = "AppRemoved"
)

// Event is a verified webhook delivery.
type Event struct {
	EventType  string
	InstanceID string
	// Data is the inner payload, already decoded from its string encoding.
	Data json.RawMessage
}

// DecodeData unmarshals the inner payload into v.
func (e *Event) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// envelope is the JSON object carried, as a string, in the token's data claim.
// Its own data field is again a JSON document serialized to a string.
type envelope struct {
	EventType  string `json:"eventType"`
	InstanceID string `json:"instanceId"`
	Data       string `json:"data"`
}
