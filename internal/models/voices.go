package models

// Voice profiles offered by the agent.
var Voices = []string{"Ara", "Rex", "Sal", "Eve", "Leo"}

// Models offered by the agent.
var Models = []string{"grok-4-1-fast-non-reasoning", "grok-4-1-fast-reasoning"}

const (
	DefaultVoice = "Ara"
	DefaultModel = "grok-4-1-fast-non-reasoning"
)

// IsValidVoice reports whether v is a known voice profile.
func IsValidVoice(v string) bool {
	return contains(Voices, v)
}

// IsValidModel reports whether m is a known model.
func IsValidModel(m string) bool {
	return contains(Models, m)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
