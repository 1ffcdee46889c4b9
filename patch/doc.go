/*
Package patch splits a raster into fixed-size, optionally overlapping windows and
stitches the fetched windows back into one array.

The flat order of a SplitPlan is column-major: every window of the first column of
windows, then every window of the second, and so on.  Index i of a plan maps to grid
cell (i % rows, i / rows).  Merging always walks the grid row-major, so the result does
not depend on the order in which patches were fetched.
*/
package patch
