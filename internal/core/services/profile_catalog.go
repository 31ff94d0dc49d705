package services

import (
	"telesession/internal/core/domain"
)

// tierOrder is the fixed downgrade ladder. Downgrades walk right, never past
// the last entry.
var tierOrder = []domain.ProfileName{
	domain.ProfileUltra,
	domain.ProfileHigh,
	domain.ProfileMedium,
	domain.ProfileLow,
	domain.ProfileMedicalCritical,
}

// ProfileCatalog is a static registry of named media-quality profiles.
type ProfileCatalog struct {
	profiles map[domain.ProfileName]domain.QualityProfile
}

func NewProfileCatalog() *ProfileCatalog {
	return &ProfileCatalog{
		profiles: map[domain.ProfileName]domain.QualityProfile{
			domain.ProfileUltra: {
				Name:  domain.ProfileUltra,
				Label: "Ultra HD",
				Video: domain.VideoSettings{Width: 1920, Height: 1080, FrameRate: 30, Bitrate: 4000},
				Audio: domain.AudioSettings{SampleRate: 48000, Channels: 2, Bitrate: 128},
				Codec: domain.CodecSettings{Video: "VP9", Audio: "Opus"},
			},
			domain.ProfileHigh: {
				Name:  domain.ProfileHigh,
				Label: "HD",
				Video: domain.VideoSettings{Width: 1280, Height: 720, FrameRate: 30, Bitrate: 2500},
				Audio: domain.AudioSettings{SampleRate: 48000, Channels: 2, Bitrate: 96},
				Codec: domain.CodecSettings{Video: "VP8", Audio: "Opus"},
			},
			domain.ProfileMedium: {
				Name:  domain.ProfileMedium,
				Label: "SD",
				Video: domain.VideoSettings{Width: 854, Height: 480, FrameRate: 25, Bitrate: 1000},
				Audio: domain.AudioSettings{SampleRate: 44100, Channels: 1, Bitrate: 64},
				Codec: domain.CodecSettings{Video: "VP8", Audio: "Opus"},
			},
			domain.ProfileLow: {
				Name:  domain.ProfileLow,
				Label: "Low",
				Video: domain.VideoSettings{Width: 640, Height: 360, FrameRate: 15, Bitrate: 500},
				Audio: domain.AudioSettings{SampleRate: 22050, Channels: 1, Bitrate: 32},
				Codec: domain.CodecSettings{Video: "VP8", Audio: "Opus"},
			},
			// Medical-critical trades fidelity for stability: H264 for broad
			// hardware decode support, full-band mono audio.
			domain.ProfileMedicalCritical: {
				Name:  domain.ProfileMedicalCritical,
				Label: "Medical Critical",
				Video: domain.VideoSettings{Width: 854, Height: 480, FrameRate: 20, Bitrate: 800},
				Audio: domain.AudioSettings{SampleRate: 48000, Channels: 1, Bitrate: 64},
				Codec: domain.CodecSettings{Video: "H264", Audio: "Opus"},
			},
		},
	}
}

func (c *ProfileCatalog) Get(name domain.ProfileName) (domain.QualityProfile, error) {
	p, ok := c.profiles[name]
	if !ok {
		return domain.QualityProfile{}, domain.ErrProfileNotFound
	}
	return p, nil
}

// Lower returns the next tier down, clamped at the last entry. Unknown names
// map to the last entry.
func (c *ProfileCatalog) Lower(name domain.ProfileName) domain.ProfileName {
	for i, n := range tierOrder {
		if n == name {
			if i+1 < len(tierOrder) {
				return tierOrder[i+1]
			}
			return n
		}
	}
	return tierOrder[len(tierOrder)-1]
}

// Rank returns the tier index (0 = highest fidelity), or -1 for unknown names.
func (c *ProfileCatalog) Rank(name domain.ProfileName) int {
	for i, n := range tierOrder {
		if n == name {
			return i
		}
	}
	return -1
}

func (c *ProfileCatalog) Names() []domain.ProfileName {
	names := make([]domain.ProfileName, len(tierOrder))
	copy(names, tierOrder)
	return names
}
