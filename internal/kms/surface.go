// Package kms implements C8: KMS/CRTC acquisition, mode-set, page-flip
// presentation, and CRTC restoration on teardown. It binds libdrm's
// mode-setting API and libgbm directly through cgo, the same
// system-library idiom internal/gpu uses, since the pack has no Go DRM
// binding of its own.
package kms

/*
#cgo pkg-config: libdrm gbm
#include <xf86drm.h>
#include <xf86drmMode.h>
#include <gbm.h>
#include <fcntl.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"log/slog"
	"os"
	"unsafe"
)

// Snapshot is the CRTC configuration captured at acquisition time and
// restored on teardown, per spec.md §4.7's "Restore" contract and §3's
// "Display state" data model.
type Snapshot struct {
	crtcID  C.uint32_t
	mode    *C.drmModeCrtc
	applied bool
}

// Surface owns the open DRM device fd, the chosen connector/CRTC, the GBM
// device/surface pair, and the saved snapshot.
type Surface struct {
	logger *slog.Logger

	fd        C.int
	connector *C.drmModeConnector
	crtcID    C.uint32_t
	mode      C.drmModeModeInfo

	gbmDevice  *C.struct_gbm_device
	gbmSurface *C.struct_gbm_surface

	snapshot Snapshot

	pendingFlip bool
}

// Open enumerates connectors on devicePath, picks the first connected one,
// selects its preferred mode, snapshots the current CRTC, and creates the
// GBM surface; the initial mode-set happens on the first Present.
// devicePath is discovered by the caller by scanning the
// standard /dev/dri directory (spec.md §6: "no path is hard-coded beyond
// the standard device directory").
func Open(logger *slog.Logger, devicePath string) (*Surface, error) {
	cpath := C.CString(devicePath)
	defer C.free(unsafe.Pointer(cpath))

	fd := C.open(cpath, C.O_RDWR)
	if fd < 0 {
		return nil, fmt.Errorf("kms: open %s failed", devicePath)
	}

	s := &Surface{logger: logger, fd: fd}

	res := C.drmModeGetResources(fd)
	if res == nil {
		C.close(fd)
		return nil, fmt.Errorf("kms: drmModeGetResources failed")
	}
	defer C.drmModeFreeResources(res)

	conn, err := findConnectedConnector(fd, res)
	if err != nil {
		C.close(fd)
		return nil, err
	}
	s.connector = conn

	if conn.count_modes == 0 {
		C.close(fd)
		return nil, fmt.Errorf("kms: connector has no usable modes")
	}
	modes := (*[1 << 10]C.drmModeModeInfo)(unsafe.Pointer(conn.modes))
	s.mode = modes[0] // libdrm sorts modes with the preferred one first.

	encoder := C.drmModeGetEncoder(fd, conn.encoder_id)
	if encoder == nil {
		C.close(fd)
		return nil, fmt.Errorf("kms: drmModeGetEncoder failed")
	}
	s.crtcID = encoder.crtc_id
	C.drmModeFreeEncoder(encoder)

	crtc := C.drmModeGetCrtc(fd, s.crtcID)
	if crtc == nil {
		C.close(fd)
		return nil, fmt.Errorf("kms: drmModeGetCrtc failed")
	}
	s.snapshot = Snapshot{crtcID: s.crtcID, mode: crtc}

	s.gbmDevice = C.gbm_create_device(fd)
	if s.gbmDevice == nil {
		C.close(fd)
		return nil, fmt.Errorf("kms: gbm_create_device failed")
	}

	width, height := int(s.mode.hdisplay), int(s.mode.vdisplay)
	s.gbmSurface = C.gbm_surface_create(s.gbmDevice,
		C.uint32_t(width), C.uint32_t(height),
		C.GBM_FORMAT_XRGB8888,
		C.GBM_BO_USE_SCANOUT|C.GBM_BO_USE_RENDERING)
	if s.gbmSurface == nil {
		return nil, fmt.Errorf("kms: gbm_surface_create failed")
	}

	logger.Info("kms surface acquired", "device", devicePath, "width", width, "height", height,
		"refresh_hz", int(s.mode.vrefresh))
	return s, nil
}

func findConnectedConnector(fd C.int, res *C.drmModeRes) (*C.drmModeConnector, error) {
	ids := (*[1 << 10]C.uint32_t)(unsafe.Pointer(res.connectors))
	for i := 0; i < int(res.count_connectors); i++ {
		conn := C.drmModeGetConnector(fd, ids[i])
		if conn == nil {
			continue
		}
		if conn.connection == C.DRM_MODE_CONNECTED {
			return conn, nil
		}
		C.drmModeFreeConnector(conn)
	}
	return nil, fmt.Errorf("kms: no connected connector found")
}

// NativeDisplay and NativeWindow expose the GBM handles internal/gpu needs
// to build its EGL display/surface, keeping libdrm/libgbm details out of
// the GPU package.
func (s *Surface) NativeDisplay() unsafe.Pointer { return unsafe.Pointer(s.gbmDevice) }
func (s *Surface) NativeWindow() unsafe.Pointer  { return unsafe.Pointer(s.gbmSurface) }

// Width and Height report the active mode's resolution.
func (s *Surface) Width() int  { return int(s.mode.hdisplay) }
func (s *Surface) Height() int { return int(s.mode.vdisplay) }

// RefreshHz reports the active mode's vertical refresh rate, used by the
// lifecycle supervisor to size VSync-pacing telemetry expectations.
func (s *Surface) RefreshHz() int { return int(s.mode.vrefresh) }

// Restore issues a CRTC restore using the saved snapshot, per spec.md
// §4.7 and the testable property in §8 ("the saved CRTC snapshot has
// been applied exactly once"). Safe to call multiple times: only the
// first call has effect.
func (s *Surface) Restore() {
	if s.snapshot.applied {
		return
	}
	s.snapshot.applied = true
	if s.snapshot.mode == nil {
		return
	}
	crtc := s.snapshot.mode
	C.drmModeSetCrtc(s.fd, crtc.crtc_id, crtc.buffer_id, crtc.x, crtc.y,
		&s.connector.connector_id, 1, &crtc.mode)
	s.logger.Info("kms: crtc restored")
}

// Close tears down the GBM surface/device and DRM fd. The caller must
// call Restore first if display restoration is required; Close does not
// restore implicitly so the lifecycle supervisor controls ordering
// explicitly (spec.md §4.8's teardown order).
func (s *Surface) Close() {
	if s.gbmSurface != nil {
		C.gbm_surface_destroy(s.gbmSurface)
		s.gbmSurface = nil
	}
	if s.gbmDevice != nil {
		C.gbm_device_destroy(s.gbmDevice)
		s.gbmDevice = nil
	}
	if s.snapshot.mode != nil {
		C.drmModeFreeCrtc(s.snapshot.mode)
		s.snapshot.mode = nil
	}
	if s.connector != nil {
		C.drmModeFreeConnector(s.connector)
		s.connector = nil
	}
	if s.fd >= 0 {
		C.close(s.fd)
	}
}

// DefaultDevicePath returns the first DRM primary node (cardN) found under the
// standard device directory, per spec.md §6's "no path is hard-coded"
// requirement.
func DefaultDevicePath() (string, error) {
	const dir = "/dev/dri"
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("kms: read %s: %w", dir, err)
	}
	for _, e := range entries {
		if len(e.Name()) >= 4 && e.Name()[:4] == "card" {
			return dir + "/" + e.Name(), nil
		}
	}
	return "", fmt.Errorf("kms: no card device found under %s", dir)
}
