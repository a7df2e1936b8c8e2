package session

// StaticGate answers the permission checks from configuration. Prompting
// the platform for consent is out of scope; the daemon trusts its config
// and the OS enforces the rest.
type StaticGate struct {
	Microphone bool
	Insertion  bool
}

func (g StaticGate) MicrophoneAllowed() bool { return g.Microphone }
func (g StaticGate) InsertionAllowed() bool  { return g.Insertion }
