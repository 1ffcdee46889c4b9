/*
Package tiles maps pixel windows onto the remote tile grid and fetches tiles.

A Fetcher owns the decoded-tile cache shared by every worker.  Each Worker owns its own
HTTP transport, which it discards and replaces after any failed attempt.  A tile is
retried up to MaxRetries times; a tile that never succeeds is reported as a
*rda.FetchError and leaves no cache entry behind.  Arrays returned from the cache are
shared and must be cloned before modification.
*/
package tiles
