package tools

import "os/exec"

// ToolStatus reports whether one external binary is resolvable on PATH.
type ToolStatus struct {
	Name      string `json:"name"`
	Binary    string `json:"binary"`
	Installed bool   `json:"installed"`
	Path      string `json:"path,omitempty"`
}

var knownTools = []struct {
	name   string
	binary string
}{
	{"Git", "git"},
	{"TruffleHog", "trufflehog"},
	{"Gitleaks", "gitleaks"},
	{"Subfinder", "subfinder"},
	{"theHarvester", "theHarvester"},
	{"CrossLinked", "crosslinked"},
	{"Blackbird", "blackbird"},
}

// DetectAll probes every tool the scanners and OSINT modules can use. The
// doctor endpoint serves this so a misconfigured host is visible before a
// scan silently produces nothing.
func DetectAll() []ToolStatus {
	statuses := make([]ToolStatus, 0, len(knownTools))
	for _, t := range knownTools {
		status := ToolStatus{Name: t.name, Binary: t.binary}
		if path, err := exec.LookPath(t.binary); err == nil {
			status.Installed = true
			status.Path = path
		}
		statuses = append(statuses, status)
	}
	return statuses
}
