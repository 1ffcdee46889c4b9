/*
Package service is the client of the remote raster compute service.  A Client registers
operation graphs, looks up registered graphs, fetches and caches image metadata, and
resolves catalog identifiers to storage paths.  Requests carry an X-Auth-Token header
obtained from access/secret key credentials and refreshed when it expires.

A Client has an explicit lifecycle:

	c := service.NewClient(cfg)
	if err := c.Open(ctx); err != nil {
		...
	}
	defer c.Close()
*/
package service
