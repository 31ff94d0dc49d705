package domain

import "time"

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NetworkMetrics is a point-in-time sample produced by the media layer.
type NetworkMetrics struct {
	Timestamp  time.Time     `json:"timestamp"`
	Latency    time.Duration `json:"latency"`
	Jitter     time.Duration `json:"jitter"`
	PacketLoss float64       `json:"packet_loss"` // fraction in [0,1]
	Bandwidth  int           `json:"bandwidth"`   // available, kbps
	FrameRate  float64       `json:"frame_rate"`
	Resolution Resolution    `json:"resolution"`
	Bitrate    int           `json:"bitrate"` // current, kbps
}
