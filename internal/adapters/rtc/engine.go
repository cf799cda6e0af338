// Package rtc adapts pion/webrtc to the call session's media
// interfaces.
package rtc

import (
	"github.com/pion/webrtc/v4"

	"github.com/lingolive/calls/internal/call"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Engine implements call.MediaEngine.
type Engine struct {
	cfg webrtc.Configuration
}

func NewEngine(iceURLs []string) *Engine {
	cfg := DefaultWebRTCConfig()
	if len(iceURLs) > 0 {
		cfg = webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: iceURLs}},
		}
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) NewConnection() (call.MediaConnection, error) {
	pc, err := webrtc.NewPeerConnection(e.cfg)
	if err != nil {
		return nil, err
	}
	return &Connection{pc: pc}, nil
}
