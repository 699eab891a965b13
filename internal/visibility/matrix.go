package visibility

import (
	"math"

	"github.com/golang/geo/r3"
)

///////////////////////////////////////////////////////////////////////////
// 4x4 matrix

// Matrix4 is a row-major 4x4 matrix acting on column vectors: p' = M p.
type Matrix4 [4][4]float64

func Identity4() Matrix4 {
	var m Matrix4
	m[0][0], m[1][1], m[2][2], m[3][3] = 1, 1, 1, 1
	return m
}

// Matrix4FromColumnMajor builds a Matrix4 from 16 values stored column by
// column, the layout WebGL and three.js use for Matrix4.elements.
func Matrix4FromColumnMajor(e [16]float64) Matrix4 {
	var m Matrix4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			m[row][col] = e[col*4+row]
		}
	}
	return m
}

// m * m2
func (m Matrix4) PostMultiply(m2 Matrix4) Matrix4 {
	var result Matrix4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			result[i][j] = m[i][0]*m2[0][j] + m[i][1]*m2[1][j] + m[i][2]*m2[2][j] + m[i][3]*m2[3][j]
		}
	}
	return result
}

// TransformPoint applies m to p with w=1 and returns the homogeneous result.
func (m Matrix4) TransformPoint(p r3.Vector) (r3.Vector, float64) {
	x := m[0][0]*p.X + m[0][1]*p.Y + m[0][2]*p.Z + m[0][3]
	y := m[1][0]*p.X + m[1][1]*p.Y + m[1][2]*p.Z + m[1][3]
	z := m[2][0]*p.X + m[2][1]*p.Y + m[2][2]*p.Z + m[2][3]
	w := m[3][0]*p.X + m[3][1]*p.Y + m[3][2]*p.Z + m[3][3]
	return r3.Vector{X: x, Y: y, Z: z}, w
}

// Apply transforms p as a point and performs the perspective divide.
func (m Matrix4) Apply(p r3.Vector) r3.Vector {
	v, w := m.TransformPoint(p)
	if w == 0 || w == 1 {
		return v
	}
	return v.Mul(1 / w)
}

// Translation returns the translation column.
func (m Matrix4) Translation() r3.Vector {
	return r3.Vector{X: m[0][3], Y: m[1][3], Z: m[2][3]}
}

// Inverse returns the inverse of an affine transform (rotation, uniform scale
// and translation). ok is false when the upper 3x3 block is singular.
func (m Matrix4) Inverse() (Matrix4, bool) {
	a := [3][3]float64{
		{m[0][0], m[0][1], m[0][2]},
		{m[1][0], m[1][1], m[1][2]},
		{m[2][0], m[2][1], m[2][2]},
	}
	det := a[0][0]*(a[1][1]*a[2][2]-a[1][2]*a[2][1]) -
		a[0][1]*(a[1][0]*a[2][2]-a[1][2]*a[2][0]) +
		a[0][2]*(a[1][0]*a[2][1]-a[1][1]*a[2][0])
	if det == 0 {
		return Matrix4{}, false
	}
	inv := 1 / det

	var r Matrix4
	r[0][0] = (a[1][1]*a[2][2] - a[1][2]*a[2][1]) * inv
	r[0][1] = (a[0][2]*a[2][1] - a[0][1]*a[2][2]) * inv
	r[0][2] = (a[0][1]*a[1][2] - a[0][2]*a[1][1]) * inv
	r[1][0] = (a[1][2]*a[2][0] - a[1][0]*a[2][2]) * inv
	r[1][1] = (a[0][0]*a[2][2] - a[0][2]*a[2][0]) * inv
	r[1][2] = (a[0][2]*a[1][0] - a[0][0]*a[1][2]) * inv
	r[2][0] = (a[1][0]*a[2][1] - a[1][1]*a[2][0]) * inv
	r[2][1] = (a[0][1]*a[2][0] - a[0][0]*a[2][1]) * inv
	r[2][2] = (a[0][0]*a[1][1] - a[0][1]*a[1][0]) * inv

	t := m.Translation()
	for i := 0; i < 3; i++ {
		r[i][3] = -(r[i][0]*t.X + r[i][1]*t.Y + r[i][2]*t.Z)
	}
	r[3][3] = 1
	return r, true
}

func Translate4(v r3.Vector) Matrix4 {
	m := Identity4()
	m[0][3], m[1][3], m[2][3] = v.X, v.Y, v.Z
	return m
}

// RotateY4 rotates by angle radians about +Y, the globe's spin axis.
func RotateY4(angle float64) Matrix4 {
	s, c := math.Sin(angle), math.Cos(angle)
	m := Identity4()
	m[0][0], m[0][2] = c, s
	m[2][0], m[2][2] = -s, c
	return m
}

// Perspective is an OpenGL-style projection; fovy is in degrees and the
// resulting clip-space depth maps [near, far] to [-1, 1].
func Perspective(fovy, aspect, near, far float64) Matrix4 {
	f := 1 / math.Tan(fovy*math.Pi/360)
	var m Matrix4
	m[0][0] = f / aspect
	m[1][1] = f
	m[2][2] = (far + near) / (near - far)
	m[2][3] = 2 * far * near / (near - far)
	m[3][2] = -1
	return m
}

// LookAt returns the view matrix for a camera at eye looking at target.
func LookAt(eye, target, up r3.Vector) Matrix4 {
	z := eye.Sub(target).Normalize()
	x := up.Cross(z).Normalize()
	y := z.Cross(x)

	return Matrix4{
		{x.X, x.Y, x.Z, -x.Dot(eye)},
		{y.X, y.Y, y.Z, -y.Dot(eye)},
		{z.X, z.Y, z.Z, -z.Dot(eye)},
		{0, 0, 0, 1},
	}
}
