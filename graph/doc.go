/*
Package graph builds content-addressed operation graphs describing a raster pipeline.

A Node is one named operator applied to ordered operand nodes with string parameters.
Its NodeID is derived from a SHA-256 digest of the canonical serialization of the
operator, its parameters, and its ancestor ids, folded into a name-based UUID.  Identical
pipelines therefore always produce identical ids, which the remote service uses to
deduplicate registrations.  Nodes are immutable once built and carry the union of the
nodes and edges of all their ancestors, so the root of a pipeline holds the complete
graph ready for registration.
*/
package graph
