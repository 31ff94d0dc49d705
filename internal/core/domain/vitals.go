package domain

import "time"

type BloodPressure struct {
	Systolic  int `json:"systolic"`
	Diastolic int `json:"diastolic"`
}

type VitalSigns struct {
	HeartRate        int            `json:"heart_rate,omitempty"`
	BloodPressure    *BloodPressure `json:"blood_pressure,omitempty"`
	Temperature      float64        `json:"temperature,omitempty"`
	OxygenSaturation int            `json:"oxygen_saturation,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}
