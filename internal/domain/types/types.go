// Package types contains the read models served by the admin API.
package types

import "time"

// ActuatorStatus is the bookkeeping for one actuator.
type ActuatorStatus struct {
	Index       int        `json:"index"`
	Active      bool       `json:"active"`
	ActiveUntil *time.Time `json:"active_until,omitempty"`
}

// ConnectorStatus describes the comb connector.
type ConnectorStatus struct {
	Mode       string           `json:"mode"` // serial, dummy or audio
	Port       string           `json:"port,omitempty"`
	Connected  bool             `json:"connected"`
	Soundboard [2]int           `json:"soundboard"`
	LEDsActive bool             `json:"leds_active"`
	Actuators  []ActuatorStatus `json:"actuators"`
	QueueSize  int              `json:"queue_size"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// WaggleMark is one member of an open dance.
type WaggleMark struct {
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	AngleDeg *float64 `json:"angle_deg,omitempty"`
}

// DanceSnapshot is an open dance on one camera.
type DanceSnapshot struct {
	Members      []WaggleMark `json:"members"`
	TriggerCount int          `json:"trigger_count"`
}

// CameraStats summarises one camera side.
type CameraStats struct {
	CameraID  string          `json:"cam_id"`
	Actuators int             `json:"actuators"`
	Origin    string          `json:"origin"`
	Dances    []DanceSnapshot `json:"dances"`
	Waggles   int64           `json:"waggles"`
	Triggers  int64           `json:"triggers"`
}

// BridgeStats is the /stats payload.
type BridgeStats struct {
	Running     bool            `json:"running"`
	StartedAt   time.Time       `json:"started_at"`
	AzimuthDeg  float64         `json:"azimuth_deg"`
	InboundSize int             `json:"inbound_queue_size"`
	Cameras     []CameraStats   `json:"cameras"`
	Connector   ConnectorStatus `json:"connector"`
	Messages    MessageCounters `json:"messages"`
}

// MessageCounters counts what happened to dance triggers.
type MessageCounters struct {
	Sent       int64 `json:"sent"`
	Suppressed int64 `json:"suppressed"`
	Dropped    int64 `json:"dropped"`
	Unassigned int64 `json:"unassigned"`
}
