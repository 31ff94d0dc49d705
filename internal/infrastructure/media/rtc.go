package media

import (
	"fmt"
	"strings"

	"telesession/internal/core/domain"
	"telesession/pkg/config"

	"github.com/pion/webrtc/v3"
)

// RTCConfiguration maps the configured ICE servers into a pion peer
// connection configuration.
func RTCConfiguration(servers []config.ICEServer) webrtc.Configuration {
	iceServers := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		urls := make([]string, len(s.URLs))
		copy(urls, s.URLs)
		ice := webrtc.ICEServer{URLs: urls}
		if s.Username != "" {
			ice.Username = s.Username
			ice.Credential = s.Credential
		}
		iceServers = append(iceServers, ice)
	}
	return webrtc.Configuration{ICEServers: iceServers}
}

// NewPeerConnection creates a peer connection with codecs registered for the
// given profile.
func NewPeerConnection(servers []config.ICEServer, profile domain.QualityProfile) (*webrtc.PeerConnection, error) {
	m := &webrtc.MediaEngine{}

	videoCodec, err := videoCodecCapability(profile.Codec.Video)
	if err != nil {
		return nil, err
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: videoCodec,
		PayloadType:        96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register video codec: %w", err)
	}

	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  uint16(profile.Audio.Channels),
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register audio codec: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
	return api.NewPeerConnection(RTCConfiguration(servers))
}

func videoCodecCapability(codec string) (webrtc.RTPCodecCapability, error) {
	switch strings.ToUpper(codec) {
	case "VP8":
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, nil
	case "VP9":
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000}, nil
	case "H264":
		return webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		}, nil
	default:
		return webrtc.RTPCodecCapability{}, fmt.Errorf("unsupported video codec %q", codec)
	}
}

// TrackConstraints describes the capture parameters a profile asks the media
// source for. Ideal values follow the profile; minimums leave room for the
// source to degrade before a profile switch becomes necessary.
type TrackConstraints struct {
	IdealWidth     int
	IdealHeight    int
	MinWidth       int
	MinHeight      int
	IdealFrameRate int
	MinFrameRate   int
	MaxBitrateKbps int
}

func ConstraintsFor(profile domain.QualityProfile) TrackConstraints {
	v := profile.Video
	return TrackConstraints{
		IdealWidth:     v.Width,
		IdealHeight:    v.Height,
		MinWidth:       v.Width / 2,
		MinHeight:      v.Height / 2,
		IdealFrameRate: v.FrameRate,
		MinFrameRate:   min(v.FrameRate, 15),
		MaxBitrateKbps: v.Bitrate,
	}
}
