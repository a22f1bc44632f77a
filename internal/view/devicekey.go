package view

import (
	"streamsync/internal/logging"
	"streamsync/internal/model"
)

// maxTrackedDevices caps how many announced devices are retained per
// device-key stream; the oldest announcement is dropped first.
const maxTrackedDevices = 10

// deviceKeyProjection maintains the user's announced encryption
// devices, newest first.
type deviceKeyProjection struct {
	baseProjection
	inception *model.DeviceKeyInceptionPayload
	devices   []model.EncryptionDevicePayload
}

func newDeviceKeyProjection(streamID model.StreamID, log *logging.Logger) *deviceKeyProjection {
	return &deviceKeyProjection{
		baseProjection: baseProjection{streamID: streamID, kind: model.StreamKindDeviceKey, log: log},
	}
}

func (p *deviceKeyProjection) ApplySnapshot(snap *model.Snapshot) {
	if snap.DeviceKey == nil {
		return
	}
	p.inception = snap.DeviceKey.Inception
	p.devices = append([]model.EncryptionDevicePayload(nil), snap.DeviceKey.Devices...)
}

func (p *deviceKeyProjection) AppendEvent(e *model.TimelineEvent) {
	switch payload := e.Payload().(type) {
	case *model.DeviceKeyInceptionPayload:
		p.inception = payload
	case *model.EncryptionDevicePayload:
		p.addDevice(*payload)
	}
}

// addDevice records an announcement, re-announcement moves the device
// to the front.
func (p *deviceKeyProjection) addDevice(d model.EncryptionDevicePayload) {
	for i, existing := range p.devices {
		if existing.DeviceKey == d.DeviceKey {
			p.devices = append(p.devices[:i], p.devices[i+1:]...)
			break
		}
	}
	p.devices = append([]model.EncryptionDevicePayload{d}, p.devices...)
	if len(p.devices) > maxTrackedDevices {
		p.devices = p.devices[:maxTrackedDevices]
	}
}

// Devices returns the tracked devices, newest first.
func (p *deviceKeyProjection) Devices() []model.EncryptionDevicePayload {
	return p.devices
}
