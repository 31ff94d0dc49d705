package domain

type ProfileName string

const (
	ProfileUltra           ProfileName = "ultra"
	ProfileHigh            ProfileName = "high"
	ProfileMedium          ProfileName = "medium"
	ProfileLow             ProfileName = "low"
	ProfileMedicalCritical ProfileName = "medical-critical"
)

type VideoSettings struct {
	Width     int `json:"width"`
	Height    int `json:"height"`
	FrameRate int `json:"frame_rate"`
	Bitrate   int `json:"bitrate"` // kbps
}

type AudioSettings struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	Bitrate    int `json:"bitrate"` // kbps
}

type CodecSettings struct {
	Video string `json:"video"`
	Audio string `json:"audio"`
}

// QualityProfile is an immutable named bundle of media parameters, looked up
// from the catalog by name.
type QualityProfile struct {
	Name  ProfileName   `json:"name"`
	Label string        `json:"label"`
	Video VideoSettings `json:"video"`
	Audio AudioSettings `json:"audio"`
	Codec CodecSettings `json:"codec"`
}
