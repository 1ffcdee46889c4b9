/*
Package rda provides types, constants, and functions that have no other dependencies
and can be used by every package of the tile engine.  This includes the logger, the
error taxonomy, band-major raster arrays, 2d shapes and pixel windows, affine
transforms, padding, lazily computed values, and payload serialization.
*/
package rda
