package gpu

// vertexShaderSrc transforms the unit quad by the 3x3 keystone matrix
// uploaded as uKeystone (spec.md §4.6).
const vertexShaderSrc = `#version 310 es
layout(location = 0) in vec2 aPos;
layout(location = 1) in vec2 aTexCoord;
uniform mat3 uKeystone;
out vec2 vTexCoord;
void main() {
    vec3 p = uKeystone * vec3(aPos, 1.0);
    gl_Position = vec4(p.xy / p.z, 0.0, 1.0);
    vTexCoord = aTexCoord;
}
`

// fragmentShaderSrc implements the BT.709 TV-range YUV->RGB conversion
// spec.md §4.6 requires: fixed compile-time matrix/offset, Y in [16,235],
// UV in [16,240], clamped to [0,1] output.
const fragmentShaderSrc = `#version 310 es
precision mediump float;
in vec2 vTexCoord;
uniform sampler2D texY;
uniform sampler2D texU;
uniform sampler2D texV;
out vec4 fragColor;

// BT.709 TV-range (limited range) YUV -> RGB, per ITU-R BT.709.
const vec3 yuvOffset = vec3(-16.0/255.0, -128.0/255.0, -128.0/255.0);
const mat3 yuvToRgb = mat3(
    1.16438,  1.16438, 1.16438,
    0.0,     -0.21325, 2.11240,
    1.79274, -0.53291, 0.0
);

void main() {
    float y = texture(texY, vTexCoord).r;
    float u = texture(texU, vTexCoord).r;
    float v = texture(texV, vTexCoord).r;
    vec3 yuv = vec3(y, u, v) + yuvOffset;
    vec3 rgb = clamp(yuvToRgb * yuv, 0.0, 1.0);
    fragColor = vec4(rgb, 1.0);
}
`
