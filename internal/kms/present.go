package kms

/*
#include <xf86drm.h>
#include <xf86drmMode.h>
#include <gbm.h>
#include <stdlib.h>
#include <string.h>

static void kmsplay_flip_handler(int fd, unsigned int frame, unsigned int sec,
                                  unsigned int usec, void *data) {
	int *done = (int *)data;
	*done = 1;
}

static int kmsplay_wait_flip(int fd) {
	drmEventContext ctx;
	memset(&ctx, 0, sizeof(ctx));
	ctx.version = DRM_EVENT_CONTEXT_VERSION;
	ctx.page_flip_handler = kmsplay_flip_handler;

	int done = 0;
	while (!done) {
		int ret = drmHandleEvent(fd, &ctx);
		if (ret != 0) {
			return ret;
		}
	}
	return 0;
}
*/
import "C"

import "fmt"

// framebuffer wraps a GBM buffer object exported to a DRM framebuffer
// handle, the scan-out source for one page-flip.
type framebuffer struct {
	bo     *C.struct_gbm_bo
	fbID   C.uint32_t
}

// Present submits a page-flip for the next rendered buffer (the GBM
// surface's current back buffer, per EGL's SwapBuffers) and blocks until
// the flip-complete event arrives — the render loop's VSync gate, per
// spec.md §4.7.
func (s *Surface) Present() error {
	bo := C.gbm_surface_lock_front_buffer(s.gbmSurface)
	if bo == nil {
		return fmt.Errorf("kms: gbm_surface_lock_front_buffer returned nil")
	}
	defer C.gbm_surface_release_buffer(s.gbmSurface, bo)

	fb, err := framebufferFromBO(s.fd, bo)
	if err != nil {
		return err
	}
	defer C.drmModeRmFB(s.fd, fb.fbID)

	if !s.pendingFlip {
		// First present: an explicit mode-set is required before any
		// page-flip can be queued.
		if ret := C.drmModeSetCrtc(s.fd, s.crtcID, fb.fbID, 0, 0,
			&s.connector.connector_id, 1, &s.mode); ret != 0 {
			return fmt.Errorf("kms: drmModeSetCrtc failed: %d", int(ret))
		}
		s.pendingFlip = true
		return nil
	}

	if ret := C.drmModePageFlip(s.fd, s.crtcID, fb.fbID, C.DRM_MODE_PAGE_FLIP_EVENT, nil); ret != 0 {
		return fmt.Errorf("kms: drmModePageFlip failed: %d", int(ret))
	}
	if ret := C.kmsplay_wait_flip(s.fd); ret != 0 {
		return fmt.Errorf("kms: waiting for flip-complete event failed: %d", int(ret))
	}
	return nil
}

func framebufferFromBO(fd C.int, bo *C.struct_gbm_bo) (framebuffer, error) {
	width := C.gbm_bo_get_width(bo)
	height := C.gbm_bo_get_height(bo)
	stride := C.gbm_bo_get_stride(bo)
	handle := C.gbm_bo_get_handle(bo).u32

	var fbID C.uint32_t
	if ret := C.drmModeAddFB(fd, width, height, 24, 32, stride, handle, &fbID); ret != 0 {
		return framebuffer{}, fmt.Errorf("kms: drmModeAddFB failed: %d", int(ret))
	}
	return framebuffer{bo: bo, fbID: fbID}, nil
}
