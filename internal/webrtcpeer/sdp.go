package webrtcpeer

import (
	"strings"

	"github.com/pion/sdp/v3"
)

// describeSDP summarizes the media sections of a session description as
// "kind:direction" pairs, e.g. "audio:recvonly".
func describeSDP(raw string) string {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return "unparseable"
	}
	parts := make([]string, 0, len(sd.MediaDescriptions))
	for _, md := range sd.MediaDescriptions {
		dir := "sendrecv"
		for _, a := range md.Attributes {
			switch a.Key {
			case "sendrecv", "sendonly", "recvonly", "inactive":
				dir = a.Key
			}
		}
		parts = append(parts, md.MediaName.Media+":"+dir)
	}
	return strings.Join(parts, ",")
}
