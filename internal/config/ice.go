package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "PEERDROP_ICE_SERVERS_JSON"

	envStunURLs       = "PEERDROP_STUN_URLS"
	envTurnURLs       = "PEERDROP_TURN_URLS"
	envTurnUsername   = "PEERDROP_TURN_USERNAME"
	envTurnCredential = "PEERDROP_TURN_CREDENTIAL"

	// DefaultSTUNURL is used when no ICE server is configured at all.
	DefaultSTUNURL = "stun:stun.l.google.com:19302"
)

// parseICEServersFromValues prefers the JSON form, then the convenience
// variables, then the default public STUN server.
func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		iceServers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return iceServers, nil
	}

	iceServers, err := ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		return nil, err
	}
	if len(iceServers) == 0 {
		return []webrtc.ICEServer{{URLs: []string{DefaultSTUNURL}}}, nil
	}
	return iceServers, nil
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

// stringOrStringSlice accepts both `"urls": "stun:..."` and `"urls": [...]`,
// matching the browser RTCIceServer shape.
type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses an RTCIceServer-style JSON array. An explicit
// empty array disables ICE servers (host candidates only).
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, raw := range servers {
		server := webrtc.ICEServer{
			URLs:     splitCommaSeparated(strings.Join(raw.URLs, ",")),
			Username: strings.TrimSpace(raw.Username),
		}
		if cred := strings.TrimSpace(raw.Credential); cred != "" {
			server.Credential = cred
		}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

// ParseICEServersFromConvenienceEnv builds an ICE server list from
// comma-separated STUN/TURN URL lists plus one shared TURN credential.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if stunList := splitCommaSeparated(stunURLs); len(stunList) > 0 {
		server := webrtc.ICEServer{URLs: stunList}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}

	if turnList := splitCommaSeparated(turnURLs); len(turnList) > 0 {
		turnUsername = strings.TrimSpace(turnUsername)
		turnCredential = strings.TrimSpace(turnCredential)
		if turnUsername == "" || turnCredential == "" {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		server := webrtc.ICEServer{
			URLs:       turnList,
			Username:   turnUsername,
			Credential: turnCredential,
		}
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	needsCreds := false
	for _, url := range server.URLs {
		scheme, _, ok := strings.Cut(url, ":")
		if !ok {
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
		switch strings.ToLower(scheme) {
		case "stun", "stuns":
		case "turn", "turns":
			needsCreds = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
	}

	if needsCreds {
		if server.Username == "" {
			return errors.New("turn urls require username")
		}
		if cred, ok := server.Credential.(string); !ok || cred == "" {
			return errors.New("turn urls require credential")
		}
	}
	return nil
}
