package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCarriesCategory(t *testing.T) {
	err := New(CategoryConfiguration, "bad source %q", "rtsp://x")
	require.EqualError(t, err, `bad source "rtsp://x"`)
	require.Equal(t, CategoryConfiguration, Classify(err))
}

func TestWrapPreservesUnderlyingError(t *testing.T) {
	base := errors.New("device busy")
	wrapped := Wrap(CategoryResource, base)
	require.Equal(t, CategoryResource, Classify(wrapped))
	require.True(t, errors.Is(wrapped, base))
}

func TestWrapNilIsNil(t *testing.T) {
	require.NoError(t, Wrap(CategoryResource, nil))
}

func TestClassifyUnknownForPlainError(t *testing.T) {
	require.Equal(t, CategoryUnknown, Classify(errors.New("plain")))
}

func TestClassifySeesThroughFmtWrap(t *testing.T) {
	base := New(CategoryDecodeFatal, "codec exploded")
	wrapped := fmt.Errorf("stream 3: %w", base)
	require.Equal(t, CategoryDecodeFatal, Classify(wrapped))
}

func TestCategoryStringMatchesLogFieldNames(t *testing.T) {
	cases := map[Category]string{
		CategoryConfiguration:   "configuration",
		CategoryDisplay:         "display",
		CategoryDecodeTransient: "decode_transient",
		CategoryDecodeFatal:     "decode_fatal",
		CategoryResource:        "resource",
		CategoryExternal:        "external",
		CategoryUnknown:         "unknown",
	}
	for cat, want := range cases {
		require.Equal(t, want, cat.String())
	}
}
