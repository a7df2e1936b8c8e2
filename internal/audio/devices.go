package audio

import (
	"encoding/hex"
	"hash/fnv"

	"github.com/gen2brain/malgo"
)

// Device describes one capture device.
type Device struct {
	// ID is a stable fingerprint of the backend device identity.
	ID        string
	Name      string
	IsDefault bool
}

// Devices enumerates the capture devices currently visible to the backend.
// It has no side effects on any running capture.
func (e *Engine) Devices() ([]Device, error) {
	infos, err := e.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}
	out := make([]Device, 0, len(infos))
	for _, info := range infos {
		out = append(out, Device{
			ID:        fingerprint(info),
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		})
	}
	return out, nil
}

// UseDevice selects the capture device for subsequent captures. The id may
// be a Device.ID fingerprint or an exact device name; an empty id returns to
// the system default. A running capture is not affected.
func (e *Engine) UseDevice(id string) error {
	if id == "" {
		e.mu.Lock()
		e.preferred = ""
		e.mu.Unlock()
		return nil
	}
	infos, err := e.ctx.Devices(malgo.Capture)
	if err != nil {
		return err
	}
	if matchDevice(infos, id) == nil {
		return ErrDeviceUnavailable
	}
	e.mu.Lock()
	e.preferred = id
	e.mu.Unlock()
	return nil
}

// matchDevice returns the device info whose fingerprint or name equals id,
// or nil when absent.
func matchDevice(infos []malgo.DeviceInfo, id string) *malgo.DeviceInfo {
	for i := range infos {
		if fingerprint(infos[i]) == id || infos[i].Name() == id {
			return &infos[i]
		}
	}
	return nil
}

// defaultDevice returns the backend's default capture device, or the first
// one when none is flagged.
func defaultDevice(infos []malgo.DeviceInfo) *malgo.DeviceInfo {
	for i := range infos {
		if infos[i].IsDefault != 0 {
			return &infos[i]
		}
	}
	if len(infos) > 0 {
		return &infos[0]
	}
	return nil
}

func fingerprint(info malgo.DeviceInfo) string {
	h := fnv.New64a()
	h.Write(info.ID[:])
	return hex.EncodeToString(h.Sum(nil))
}
