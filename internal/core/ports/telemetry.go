package ports

import (
	"time"

	"telesession/internal/core/domain"
)

// Telemetry receives counters and observations from the session components.
type Telemetry interface {
	RecordConnect(reconnect bool)
	RecordDisconnect(code int)
	RecordReconnectAttempt()
	RecordConnectionLost()
	RecordProfileSwitch(from, to domain.ProfileName)
	RecordSendFailure(msgType string)
	SetParticipants(n int)
	ObserveLatency(d time.Duration)
}

// NopTelemetry discards everything.
type NopTelemetry struct{}

func (NopTelemetry) RecordConnect(bool)                          {}
func (NopTelemetry) RecordDisconnect(int)                        {}
func (NopTelemetry) RecordReconnectAttempt()                     {}
func (NopTelemetry) RecordConnectionLost()                       {}
func (NopTelemetry) RecordProfileSwitch(_, _ domain.ProfileName) {}
func (NopTelemetry) RecordSendFailure(string)                    {}
func (NopTelemetry) SetParticipants(int)                         {}
func (NopTelemetry) ObserveLatency(time.Duration)                {}
