// Package rtc checks WebRTC configuration handed to clients. The relay never
// terminates media itself; it only needs pion to agree the config is usable.
package rtc

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{
			URLs: []string{"stun:stun.l.google.com:19302"},
		},
	}
}

// ProbeICEServers builds a throwaway peer connection with servers, which makes
// pion parse every URL and demand credentials for TURN entries.
func ProbeICEServers(servers []webrtc.ICEServer) error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return fmt.Errorf("ice servers rejected: %w", err)
	}
	if err := pc.Close(); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Msg("close probe peer connection")
	}
	log.Debug().Str("module", "rtc").Int("servers", len(servers)).Msg("ice servers accepted")
	return nil
}
