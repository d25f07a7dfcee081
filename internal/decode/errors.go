package decode

import (
	"strings"

	"github.com/e7canasta/kmsplay/internal/errs"
)

// Classify implements spec.md §7's decode-transient vs decode-fatal split
// for errors surfaced outside NextFrame's own Result value (e.g. from
// Open). It is grounded directly on the teacher's
// ClassifyGStreamerError/ErrorCategory pattern
// (modules/stream-capture/internal/rtsp/errors.go): string-matching
// keyword buckets over the underlying library's error text, since
// go-astiav — like go-gst — does not expose a structured error domain to
// classify on.
func Classify(err error) errs.Category {
	if err == nil {
		return errs.CategoryUnknown
	}
	if cat := errs.Classify(err); cat != errs.CategoryUnknown {
		return cat
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "no such file", "cannot open", "connection refused", "not found", "unauthorized"):
		return errs.CategoryConfiguration
	case containsAny(msg, "no decoder", "codec_unsupported", "no video track", "unsupported codec"):
		return errs.CategoryConfiguration
	case containsAny(msg, "hardware", "vaapi", "hwaccel"):
		return errs.CategoryDecodeTransient
	default:
		return errs.CategoryDecodeFatal
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
