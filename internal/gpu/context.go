package gpu

/*
#cgo pkg-config: egl glesv2
#include <EGL/egl.h>
#include <GLES3/gl31.h>
#include <stdlib.h>

static GLuint kmsplay_compile_shader(GLenum type, const char *src, char *log, int logCap) {
	GLuint sh = glCreateShader(type);
	glShaderSource(sh, 1, &src, NULL);
	glCompileShader(sh);
	GLint ok = 0;
	glGetShaderiv(sh, GL_COMPILE_STATUS, &ok);
	if (!ok) {
		glGetShaderInfoLog(sh, logCap, NULL, log);
		glDeleteShader(sh);
		return 0;
	}
	return sh;
}

static GLuint kmsplay_link_program(GLuint vs, GLuint fs, char *log, int logCap) {
	GLuint prog = glCreateProgram();
	glAttachShader(prog, vs);
	glAttachShader(prog, fs);
	glLinkProgram(prog);
	GLint ok = 0;
	glGetProgramiv(prog, GL_LINK_STATUS, &ok);
	if (!ok) {
		glGetProgramInfoLog(prog, logCap, NULL, log);
		glDeleteProgram(prog);
		return 0;
	}
	return prog;
}
*/
import "C"

import (
	"fmt"
	"log/slog"
	"unsafe"
)

// Context is C7: the EGL display/context pair plus the compiled YUV
// program and per-stream textures. Binding libEGL and libGLESv2 directly
// through cgo, in the pack's system-library idiom
// (other_examples/pion-mediadevices__vaapi.go's #cgo pkg-config header
// includes; other_examples/sikang99-media-muxer__display.go's small Go
// struct wrapping opaque C handles behind Open/Close/Render-shaped
// methods), is the only option here: nothing in the corpus offers a Go
// GLES binding, and spec.md §4.6 requires GLES 3.1 with an explicit
// sub-image row-length parameter that the high-level graphics libraries
// elsewhere in the pack (none of which target embedded KMS/GLES) do not
// expose.
type Context struct {
	logger *slog.Logger

	eglDisplay C.EGLDisplay
	eglContext C.EGLContext
	eglSurface C.EGLSurface

	program C.GLuint

	uKeystone C.GLint
	uSamplerY C.GLint
	uSamplerU C.GLint
	uSamplerV C.GLint

	streams map[int]*streamTextures
}

type streamTextures struct {
	y, u, v      C.GLuint
	width, height int
}

// New creates an EGL context bound to nativeDisplay/nativeWindow (both
// supplied by internal/kms, which owns the GBM surface these wrap), and
// compiles the BT.709 YUV shader program.
func New(logger *slog.Logger, nativeDisplay, nativeWindow unsafe.Pointer) (*Context, error) {
	c := &Context{logger: logger, streams: make(map[int]*streamTextures)}

	c.eglDisplay = C.eglGetDisplay(C.EGLNativeDisplayType(nativeDisplay))
	if c.eglDisplay == nil {
		return nil, fmt.Errorf("gpu: eglGetDisplay returned no display")
	}
	var major, minor C.EGLint
	if C.eglInitialize(c.eglDisplay, &major, &minor) == C.EGL_FALSE {
		return nil, fmt.Errorf("gpu: eglInitialize failed")
	}
	logger.Info("egl initialized", "major", int(major), "minor", int(minor))

	if C.eglBindAPI(C.EGL_OPENGL_ES_API) == C.EGL_FALSE {
		return nil, fmt.Errorf("gpu: eglBindAPI(GLES) failed")
	}

	cfg, err := chooseConfig(c.eglDisplay)
	if err != nil {
		return nil, err
	}

	ctxAttribs := [...]C.EGLint{C.EGL_CONTEXT_CLIENT_VERSION, 3, C.EGL_NONE}
	c.eglContext = C.eglCreateContext(c.eglDisplay, cfg, C.EGLContext(C.EGL_NO_CONTEXT), &ctxAttribs[0])
	if c.eglContext == nil {
		return nil, fmt.Errorf("gpu: eglCreateContext failed")
	}

	c.eglSurface = C.eglCreateWindowSurface(c.eglDisplay, cfg, C.EGLNativeWindowType(nativeWindow), nil)
	if c.eglSurface == nil {
		return nil, fmt.Errorf("gpu: eglCreateWindowSurface failed")
	}

	if C.eglMakeCurrent(c.eglDisplay, c.eglSurface, c.eglSurface, c.eglContext) == C.EGL_FALSE {
		return nil, fmt.Errorf("gpu: eglMakeCurrent failed")
	}

	if err := c.compileProgram(); err != nil {
		return nil, err
	}
	return c, nil
}

func chooseConfig(display C.EGLDisplay) (C.EGLConfig, error) {
	attribs := [...]C.EGLint{
		C.EGL_SURFACE_TYPE, C.EGL_WINDOW_BIT,
		C.EGL_RENDERABLE_TYPE, C.EGL_OPENGL_ES3_BIT,
		C.EGL_RED_SIZE, 8,
		C.EGL_GREEN_SIZE, 8,
		C.EGL_BLUE_SIZE, 8,
		C.EGL_NONE,
	}
	var cfg C.EGLConfig
	var numConfigs C.EGLint
	if C.eglChooseConfig(display, &attribs[0], &cfg, 1, &numConfigs) == C.EGL_FALSE || numConfigs == 0 {
		return nil, fmt.Errorf("gpu: eglChooseConfig found no matching config")
	}
	return cfg, nil
}

func (c *Context) compileProgram() error {
	logBuf := make([]C.char, 1024)

	vs := C.CString(vertexShaderSrc)
	defer C.free(unsafe.Pointer(vs))
	vsh := C.kmsplay_compile_shader(C.GL_VERTEX_SHADER, vs, &logBuf[0], C.int(len(logBuf)))
	if vsh == 0 {
		return fmt.Errorf("gpu: vertex shader compile failed: %s", C.GoString(&logBuf[0]))
	}

	fs := C.CString(fragmentShaderSrc)
	defer C.free(unsafe.Pointer(fs))
	fsh := C.kmsplay_compile_shader(C.GL_FRAGMENT_SHADER, fs, &logBuf[0], C.int(len(logBuf)))
	if fsh == 0 {
		return fmt.Errorf("gpu: fragment shader compile failed: %s", C.GoString(&logBuf[0]))
	}

	prog := C.kmsplay_link_program(vsh, fsh, &logBuf[0], C.int(len(logBuf)))
	if prog == 0 {
		return fmt.Errorf("gpu: program link failed: %s", C.GoString(&logBuf[0]))
	}
	c.program = prog

	nameKeystone := C.CString("uKeystone")
	defer C.free(unsafe.Pointer(nameKeystone))
	c.uKeystone = C.glGetUniformLocation(prog, nameKeystone)

	nameY := C.CString("texY")
	defer C.free(unsafe.Pointer(nameY))
	c.uSamplerY = C.glGetUniformLocation(prog, nameY)

	nameU := C.CString("texU")
	defer C.free(unsafe.Pointer(nameU))
	c.uSamplerU = C.glGetUniformLocation(prog, nameU)

	nameV := C.CString("texV")
	defer C.free(unsafe.Pointer(nameV))
	c.uSamplerV = C.glGetUniformLocation(prog, nameV)

	return nil
}

// Close releases the GL program and EGL context/surface. Idempotent: safe
// to call from the lifecycle supervisor's teardown path even if New
// partially failed.
func (c *Context) Close() {
	if c.program != 0 {
		C.glDeleteProgram(c.program)
		c.program = 0
	}
	for id, tex := range c.streams {
		C.glDeleteTextures(1, &tex.y)
		C.glDeleteTextures(1, &tex.u)
		C.glDeleteTextures(1, &tex.v)
		delete(c.streams, id)
	}
	if c.eglDisplay != nil {
		C.eglMakeCurrent(c.eglDisplay, C.EGLSurface(C.EGL_NO_SURFACE), C.EGLSurface(C.EGL_NO_SURFACE), C.EGLContext(C.EGL_NO_CONTEXT))
		if c.eglSurface != nil {
			C.eglDestroySurface(c.eglDisplay, c.eglSurface)
		}
		if c.eglContext != nil {
			C.eglDestroyContext(c.eglDisplay, c.eglContext)
		}
		C.eglTerminate(c.eglDisplay)
	}
}

// SwapBuffers presents the rendered surface; internal/kms drives the
// actual page-flip/VSync wait separately when running direct-to-KMS, but
// EGL surfaces created against a GBM window still require this call to
// release the back buffer for scan-out.
func (c *Context) SwapBuffers() {
	C.eglSwapBuffers(c.eglDisplay, c.eglSurface)
}
