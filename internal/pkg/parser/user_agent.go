package parser

import "strings"

// Agent is a coarse description of a browser, recorded with audit events
// and appended to portal task requests.
type Agent struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
}

func (a Agent) String() string {
	return a.Browser + " on " + a.OS
}

func ParseUserAgent(ua string) Agent {
	uaLower := strings.ToLower(ua)

	var agent Agent
	switch {
	case strings.Contains(uaLower, "iphone") || strings.Contains(uaLower, "ipad"):
		agent.OS = "iOS"
	case strings.Contains(uaLower, "android"):
		agent.OS = "Android"
	case strings.Contains(uaLower, "windows"):
		agent.OS = "Windows"
	case strings.Contains(uaLower, "mac os"):
		agent.OS = "macOS"
	case strings.Contains(uaLower, "linux"):
		agent.OS = "Linux"
	default:
		agent.OS = "Unknown"
	}

	// Edge and Chrome both advertise Safari; check the most specific first.
	switch {
	case strings.Contains(uaLower, "edg/") || strings.Contains(uaLower, "edge"):
		agent.Browser = "Edge"
	case strings.Contains(uaLower, "firefox") || strings.Contains(uaLower, "fxios"):
		agent.Browser = "Firefox"
	case strings.Contains(uaLower, "chrome") || strings.Contains(uaLower, "crios"):
		agent.Browser = "Chrome"
	case strings.Contains(uaLower, "safari"):
		agent.Browser = "Safari"
	default:
		agent.Browser = "Unknown"
	}

	return agent
}
