package gpu

/*
#include <GLES3/gl31.h>
*/
import "C"

import (
	"unsafe"

	"github.com/e7canasta/kmsplay/internal/framepool"
)

// EnsureStream allocates (or resizes) the three single-channel textures
// for a stream, sized to the pool's padded dimensions, per spec.md §4.6.
// Storage is allocated once via glTexImage2D on first call or on a
// dimension change; subsequent frames use UploadPlanes' sub-image path,
// so the steady-state upload never reallocates GPU storage.
func (c *Context) EnsureStream(streamID, width, height int) {
	st, ok := c.streams[streamID]
	if ok && st.width == width && st.height == height {
		return
	}
	if ok {
		C.glDeleteTextures(1, &st.y)
		C.glDeleteTextures(1, &st.u)
		C.glDeleteTextures(1, &st.v)
	}
	st = &streamTextures{width: width, height: height}
	st.y = newPlaneTexture(width, height)
	st.u = newPlaneTexture(width/2, height/2)
	st.v = newPlaneTexture(width/2, height/2)
	c.streams[streamID] = st
}

func newPlaneTexture(width, height int) C.GLuint {
	var tex C.GLuint
	C.glGenTextures(1, &tex)
	C.glBindTexture(C.GL_TEXTURE_2D, tex)
	C.glTexParameteri(C.GL_TEXTURE_2D, C.GL_TEXTURE_MIN_FILTER, C.GL_LINEAR)
	C.glTexParameteri(C.GL_TEXTURE_2D, C.GL_TEXTURE_MAG_FILTER, C.GL_LINEAR)
	C.glTexParameteri(C.GL_TEXTURE_2D, C.GL_TEXTURE_WRAP_S, C.GL_CLAMP_TO_EDGE)
	C.glTexParameteri(C.GL_TEXTURE_2D, C.GL_TEXTURE_WRAP_T, C.GL_CLAMP_TO_EDGE)
	C.glTexImage2D(C.GL_TEXTURE_2D, 0, C.GL_R8, C.GLsizei(width), C.GLsizei(height), 0,
		C.GL_RED, C.GL_UNSIGNED_BYTE, nil)
	return tex
}

// UploadPlanes uploads a decoded slot's Y/U/V planes into the stream's
// textures using glPixelStorei(GL_UNPACK_ROW_LENGTH) so the plane's stride
// (the pool's padded allocation width, which exceeds the valid width) requires no
// CPU-side re-packing, per spec.md §4.6.
func (c *Context) UploadPlanes(streamID int, slot *framepool.Slot) {
	st, ok := c.streams[streamID]
	if !ok {
		return
	}
	uploadPlane(st.y, &slot.Y)
	uploadPlane(st.u, &slot.U)
	uploadPlane(st.v, &slot.V)
}

func uploadPlane(tex C.GLuint, p *framepool.Plane) {
	if p.ValidWidth == 0 || p.ValidHeight == 0 {
		return
	}
	C.glBindTexture(C.GL_TEXTURE_2D, tex)
	C.glPixelStorei(C.GL_UNPACK_ROW_LENGTH, C.GLint(p.Stride))
	C.glTexSubImage2D(C.GL_TEXTURE_2D, 0, 0, 0,
		C.GLsizei(p.ValidWidth), C.GLsizei(p.ValidHeight),
		C.GL_RED, C.GL_UNSIGNED_BYTE, unsafe.Pointer(&p.Data[0]))
	C.glPixelStorei(C.GL_UNPACK_ROW_LENGTH, 0)
}

// DrawStream binds the program, this stream's three planes, uploads the
// keystone matrix, and draws the unit quad — the video pass of spec.md
// §4.5's per-frame draw step. mat is expected to already be the current
// Keystone.Matrix() for this stream.
func (c *Context) DrawStream(streamID int, mat Mat3) {
	st, ok := c.streams[streamID]
	if !ok {
		return
	}
	C.glUseProgram(c.program)

	C.glActiveTexture(C.GL_TEXTURE0)
	C.glBindTexture(C.GL_TEXTURE_2D, st.y)
	C.glUniform1i(c.uSamplerY, 0)

	C.glActiveTexture(C.GL_TEXTURE1)
	C.glBindTexture(C.GL_TEXTURE_2D, st.u)
	C.glUniform1i(c.uSamplerU, 1)

	C.glActiveTexture(C.GL_TEXTURE2)
	C.glBindTexture(C.GL_TEXTURE_2D, st.v)
	C.glUniform1i(c.uSamplerV, 2)

	var glMat [9]C.GLfloat
	for i, v := range mat {
		glMat[i] = C.GLfloat(v)
	}
	// Mat3 is stored row-major (see gpu.Mat3's doc comment); GLES 3.1
	// permits transpose=GL_TRUE so the row-major data can be uploaded
	// directly without a manual transpose step.
	C.glUniformMatrix3fv(c.uKeystone, 1, C.GL_TRUE, &glMat[0])

	drawUnitQuad()
}

// ClearFrame clears the shared scan-out framebuffer before drawing each
// stream's quad into it, per spec.md §9's dual-stream compositing
// decision (single shared framebuffer object, not per-stream CRTC
// planes).
func (c *Context) ClearFrame() {
	C.glClearColor(0, 0, 0, 1)
	C.glClear(C.GL_COLOR_BUFFER_BIT)
}

var quadVAO C.GLuint
var quadInitialized bool

// drawUnitQuad lazily builds a VBO for the unit quad (position + texcoord
// interleaved) and issues the two-triangle draw call.
func drawUnitQuad() {
	if !quadInitialized {
		initQuadBuffers()
		quadInitialized = true
	}
	C.glBindVertexArray(quadVAO)
	C.glDrawArrays(C.GL_TRIANGLE_STRIP, 0, 4)
	C.glBindVertexArray(0)
}

func initQuadBuffers() {
	// x, y, u, v per vertex, triangle strip covering the unit quad.
	vertices := [16]C.GLfloat{
		0, 0, 0, 1,
		1, 0, 1, 1,
		0, 1, 0, 0,
		1, 1, 1, 0,
	}
	var vao, vbo C.GLuint
	C.glGenVertexArrays(1, &vao)
	C.glGenBuffers(1, &vbo)
	C.glBindVertexArray(vao)
	C.glBindBuffer(C.GL_ARRAY_BUFFER, vbo)
	C.glBufferData(C.GL_ARRAY_BUFFER, C.GLsizeiptr(unsafe.Sizeof(vertices)), unsafe.Pointer(&vertices[0]), C.GL_STATIC_DRAW)

	stride := C.GLsizei(4 * unsafe.Sizeof(C.GLfloat(0)))
	C.glVertexAttribPointer(0, 2, C.GL_FLOAT, C.GL_FALSE, stride, unsafe.Pointer(uintptr(0)))
	C.glEnableVertexAttribArray(0)
	C.glVertexAttribPointer(1, 2, C.GL_FLOAT, C.GL_FALSE, stride, unsafe.Pointer(uintptr(2*unsafe.Sizeof(C.GLfloat(0)))))
	C.glEnableVertexAttribArray(1)

	C.glBindVertexArray(0)
	quadVAO = vao
}
