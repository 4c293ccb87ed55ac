package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_STUN_URLS"
	envTurnURLs       = "AERO_TURN_URLS"
	envTurnUsername   = "AERO_TURN_USERNAME"
	envTurnCredential = "AERO_TURN_CREDENTIAL"
)

var (
	errNoURLs           = errors.New("missing urls")
	errTURNNeedsAccount = errors.New("turn urls require username and credential")
)

// iceSettings holds the raw ICE inputs. A non-empty JSON list wins over the
// STUN/TURN URL lists.
type iceSettings struct {
	serversJSON    string
	stunURLs       string
	turnURLs       string
	turnUsername   string
	turnCredential string
}

func (s *iceSettings) fromEnv(env *envReader) {
	s.serversJSON = env.stringOr(envICEServersJSON, "")
	s.stunURLs = env.stringOr(envStunURLs, "")
	s.turnURLs = env.stringOr(envTurnURLs, "")
	s.turnUsername = env.stringOr(envTurnUsername, "")
	s.turnCredential = env.stringOr(envTurnCredential, "")
}

func (s iceSettings) servers() ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(s.serversJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}
	return ICEServersFromURLLists(s.stunURLs, s.turnURLs, s.turnUsername, s.turnCredential)
}

// jsonURLs accepts both "urls": "stun:..." and "urls": ["stun:..."], as
// RTCIceServer does.
type jsonURLs []string

func (u *jsonURLs) UnmarshalJSON(b []byte) error {
	var many []string
	if err := json.Unmarshal(b, &many); err == nil {
		*u = many
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err != nil {
		return fmt.Errorf("urls must be a string or an array of strings")
	}
	*u = jsonURLs{one}
	return nil
}

// ParseICEServersJSON parses an RTCIceServer-style JSON array.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var entries []struct {
		URLs       jsonURLs `json:"urls"`
		Username   string   `json:"username"`
		Credential string   `json:"credential"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	servers := make([]webrtc.ICEServer, 0, len(entries))
	for i, e := range entries {
		server, err := newICEServer(e.URLs, e.Username, e.Credential)
		if err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// ICEServersFromURLLists builds one STUN entry and one TURN entry from
// comma-separated URL lists. Either list may be empty.
func ICEServersFromURLLists(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer
	if urls := splitCommaSeparated(stunURLs); len(urls) > 0 {
		server, err := newICEServer(urls, "", "")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}
	if urls := splitCommaSeparated(turnURLs); len(urls) > 0 {
		server, err := newICEServer(urls, turnUsername, turnCredential)
		if errors.Is(err, errTURNNeedsAccount) {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// newICEServer validates every URL with pion's STUN URI parser. TURN URLs
// need an account because pion refuses them otherwise.
func newICEServer(urls []string, username, credential string) (webrtc.ICEServer, error) {
	username = strings.TrimSpace(username)
	credential = strings.TrimSpace(credential)

	server := webrtc.ICEServer{Username: username}
	needsAccount := false
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		uri, err := stun.ParseURI(raw)
		if err != nil {
			return webrtc.ICEServer{}, fmt.Errorf("invalid url %q: %w", raw, err)
		}
		if uri.Scheme == stun.SchemeTypeTURN || uri.Scheme == stun.SchemeTypeTURNS {
			needsAccount = true
		}
		server.URLs = append(server.URLs, raw)
	}
	if len(server.URLs) == 0 {
		return webrtc.ICEServer{}, errNoURLs
	}
	if needsAccount && (username == "" || credential == "") {
		return webrtc.ICEServer{}, errTURNNeedsAccount
	}
	if credential != "" {
		server.Credential = credential
	}
	return server, nil
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

// ClientICEServer is the RTCIceServer shape browsers expect from GET /webrtc/ice.
type ClientICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ClientICEServers converts the configured servers for the browser. The
// listener peer uses the same list, so credentials are passed through.
func ClientICEServers(servers []webrtc.ICEServer) []ClientICEServer {
	out := make([]ClientICEServer, 0, len(servers))
	for _, server := range servers {
		c := ClientICEServer{
			URLs:     append([]string(nil), server.URLs...),
			Username: server.Username,
		}
		if cred, ok := server.Credential.(string); ok {
			c.Credential = cred
		}
		out = append(out, c)
	}
	return out
}
