package renderer

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type Vertex struct {
	Position mgl32.Vec3
	Color    mgl32.Vec3
}

// Mesh is an indexed triangle list.
type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
}

func TriangleMesh() Mesh {
	return Mesh{
		Vertices: []Vertex{
			{Position: mgl32.Vec3{-0.5, -0.5, 0}, Color: mgl32.Vec3{1, 0, 0}},
			{Position: mgl32.Vec3{0, 0.5, 0}, Color: mgl32.Vec3{0, 1, 0}},
			{Position: mgl32.Vec3{0.5, -0.25, 0}, Color: mgl32.Vec3{0, 0, 1}},
		},
		Indices: []uint32{0, 1, 2},
	}
}

// LoadOBJ reads the OBJ file at path. Materials are ignored.
func LoadOBJ(path string) (Mesh, error) {
	meshFile, err := os.Open(path)
	if err != nil {
		return Mesh{}, errors.Wrap(err, "opening mesh")
	}
	defer meshFile.Close()

	decoder, err := obj.DecodeReader(meshFile, strings.NewReader(""))
	if err != nil {
		return Mesh{}, errors.Wrapf(err, "decoding %s", path)
	}

	var faces [][]int
	for _, decodedObj := range decoder.Objects {
		for _, face := range decodedObj.Faces {
			faces = append(faces, face.Vertices)
		}
	}

	mesh, err := triangulate(decoder.Vertices, faces)
	if err != nil {
		return Mesh{}, errors.Wrapf(err, "decoding %s", path)
	}
	return mesh, nil
}

// triangulate fans each polygon out from its first corner, sharing vertices
// between faces. positions holds three floats per vertex.
func triangulate(positions []float32, faces [][]int) (Mesh, error) {
	var mesh Mesh
	uniqueVertices := make(map[int]uint32)

	addVertex := func(vertInd int) error {
		if vertInd < 0 || vertInd*3+2 >= len(positions) {
			return errors.Newf("vertex index %d out of range", vertInd)
		}

		index, vertexExists := uniqueVertices[vertInd]
		if !vertexExists {
			position := mgl32.Vec3{positions[vertInd*3], positions[vertInd*3+1], positions[vertInd*3+2]}
			index = uint32(len(mesh.Vertices))
			mesh.Vertices = append(mesh.Vertices, Vertex{Position: position, Color: mgl32.Vec3{1, 1, 1}})
			uniqueVertices[vertInd] = index
		}

		mesh.Indices = append(mesh.Indices, index)
		return nil
	}

	for _, face := range faces {
		for i := 2; i < len(face); i++ {
			for _, corner := range []int{face[0], face[i-1], face[i]} {
				err := addVertex(corner)
				if err != nil {
					return Mesh{}, err
				}
			}
		}
	}

	if len(mesh.Indices) == 0 {
		return Mesh{}, errors.New("mesh has no triangles")
	}
	return mesh, nil
}

type meshBuffers struct {
	vertices   buffer
	indices    buffer
	indexCount int
}

func (d *Device) uploadMesh(mesh Mesh) (meshBuffers, error) {
	vertices, err := d.createDeviceLocalBuffer(mesh.Vertices, core1_0.BufferUsageVertexBuffer)
	if err != nil {
		return meshBuffers{}, errors.Wrap(err, "uploading vertices")
	}

	indices, err := d.createDeviceLocalBuffer(mesh.Indices, core1_0.BufferUsageIndexBuffer)
	if err != nil {
		d.destroyBuffer(vertices)
		return meshBuffers{}, errors.Wrap(err, "uploading indices")
	}

	return meshBuffers{vertices: vertices, indices: indices, indexCount: len(mesh.Indices)}, nil
}

func (d *Device) destroyMesh(m meshBuffers) {
	d.destroyBuffer(m.vertices)
	d.destroyBuffer(m.indices)
}
