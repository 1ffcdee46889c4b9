/*
Package raster exposes registered graph nodes as georeferenced images.

An Image pairs the metadata of one graph node with its own GeoAdapter, which maps the
tile grid onto the logical image bounds and world coordinates.  Cropping, shifting, or
deriving an image yields a new Image with a new adapter; adapters are never shared.
Pixel windows are half-open throughout.
*/
package raster
