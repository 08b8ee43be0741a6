// Package omx defines the vocabulary shared by the decoder component, its
// clients, and decode engines: component states, port indices, commands,
// buffer flags and descriptors, port definitions, error codes, and the
// client callback interface.
//
// This package contains no behaviour; the asynchronous engine that gives
// these types meaning lives in [github.com/zsiec/vdec/internal/component].
package omx
