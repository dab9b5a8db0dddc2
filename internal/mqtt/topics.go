package mqtt

import "strings"

// Topics builds the topic names under a prefix.
type Topics struct {
	Prefix string
}

// Status is the bridge availability topic carrying "online" or "offline".
func (t Topics) Status() string {
	return t.Prefix + "/status"
}

// State is the retained state topic of one fixture.
func (t Topics) State(id string) string {
	return t.Prefix + "/" + Segment(id) + "/state"
}

// Set is the command topic of one fixture.
func (t Topics) Set(id string) string {
	return t.Prefix + "/" + Segment(id) + "/set"
}

// SetWildcard matches the command topic of every fixture.
func (t Topics) SetWildcard() string {
	return t.Prefix + "/+/set"
}

// SegmentFromSet extracts the fixture segment from a command topic.
func (t Topics) SegmentFromSet(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/set")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// Names may contain '/', '+' or '#', which cannot appear in a topic level.
var topicEscaper = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// Segment returns the topic level used for a fixture identity.
func Segment(id string) string {
	return topicEscaper.Replace(id)
}
