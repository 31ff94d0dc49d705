package media

import (
	"math"
	"sync"
	"time"

	"telesession/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

const rtpClockRate = 90000 // video clock

// Sampler turns raw RTCP/RTP observations into NetworkMetrics snapshots.
// Packet loss and round-trip time come from RTCP receiver reports; jitter is
// the RFC 3550 interarrival estimate maintained from RTP packet arrivals.
type Sampler struct {
	mu sync.Mutex

	rtt        time.Duration
	lossFrac   float64
	reportSeen bool

	jitter      float64 // in RTP timestamp units
	lastTransit float64
	haveTransit bool

	frames     int
	frameMarks time.Time
	frameRate  float64

	bytes     int
	bytesMark time.Time
	bitrate   int // kbps

	bandwidth  int // kbps, estimated available
	resolution domain.Resolution
}

func NewSampler() *Sampler {
	now := time.Now()
	return &Sampler{
		frameMarks: now,
		bytesMark:  now,
	}
}

// ObserveReceiverReport folds an RTCP receiver report into the sample:
// fraction lost and, when LSR is present, round-trip time per RFC 3550
// section 6.4.1.
func (s *Sampler) ObserveReceiverReport(report *rtcp.ReceiverReport, arrival time.Time) {
	if len(report.Reports) == 0 {
		return
	}
	rr := report.Reports[0]

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lossFrac = float64(rr.FractionLost) / 256.0
	s.reportSeen = true

	if rr.LastSenderReport != 0 {
		arrivalNTP := toNTP32(arrival)
		rtt32 := arrivalNTP - rr.LastSenderReport - rr.Delay
		// Wraparound or clock skew yields a bogus huge value; keep the last
		// good estimate instead.
		if rtt32 < 0x7FFFFFFF {
			s.rtt = time.Duration(float64(rtt32) / 65536.0 * float64(time.Second))
		}
	}
}

// ObservePacket updates the interarrival jitter estimate and frame/bitrate
// counters from one received RTP packet.
func (s *Sampler) ObservePacket(pkt *rtp.Packet, arrival time.Time, payloadBytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	arrivalTS := float64(arrival.UnixNano()) / float64(time.Second) * rtpClockRate
	transit := arrivalTS - float64(pkt.Timestamp)

	if s.haveTransit {
		d := math.Abs(transit - s.lastTransit)
		s.jitter += (d - s.jitter) / 16.0
	}
	s.lastTransit = transit
	s.haveTransit = true

	s.bytes += payloadBytes
	if pkt.Marker {
		s.frames++
	}

	if since := arrival.Sub(s.bytesMark); since >= time.Second {
		s.bitrate = int(float64(s.bytes) * 8 / since.Seconds() / 1000)
		s.bytes = 0
		s.bytesMark = arrival
	}
	if since := arrival.Sub(s.frameMarks); since >= time.Second {
		s.frameRate = float64(s.frames) / since.Seconds()
		s.frames = 0
		s.frameMarks = arrival
	}
}

// SetBandwidthEstimate records the congestion controller's available-bitrate
// estimate in kbps.
func (s *Sampler) SetBandwidthEstimate(kbps int) {
	s.mu.Lock()
	s.bandwidth = kbps
	s.mu.Unlock()
}

func (s *Sampler) SetResolution(width, height int) {
	s.mu.Lock()
	s.resolution = domain.Resolution{Width: width, Height: height}
	s.mu.Unlock()
}

// Snapshot returns the current sample. Latency is one-way, approximated as
// half the measured round-trip.
func (s *Sampler) Snapshot() domain.NetworkMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	jitterSec := s.jitter / rtpClockRate
	return domain.NetworkMetrics{
		Timestamp:  time.Now(),
		Latency:    s.rtt / 2,
		Jitter:     time.Duration(jitterSec * float64(time.Second)),
		PacketLoss: s.lossFrac,
		Bandwidth:  s.bandwidth,
		FrameRate:  s.frameRate,
		Resolution: s.resolution,
		Bitrate:    s.bitrate,
	}
}

// toNTP32 is the middle 32 bits of the 64-bit NTP timestamp for t.
func toNTP32(t time.Time) uint32 {
	const ntpEpochOffset = 2208988800 // seconds between 1900 and 1970
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) * (1 << 32) / uint64(time.Second)
	ntp := secs<<32 | frac
	return uint32(ntp >> 16)
}
