/*
Package server runs an HTTP proxy in front of the compute service's tile endpoints.
Clients that cannot decode multi-band TIFF tiles can request a tile as PNG or as raw
band-major bytes, and inspect metadata and tile cache statistics.

The server is configured by a TOML file:

	[server]
	httpAddress = "localhost:8500"
	corsOrigins = ["*"]
	tileFormat = "png"

	[auth]
	secret_key = "..."
	auth_file = "users.json"

	[logging]
	logfile = "rdatiles.log"
	max_log_size = 500 # MB
	max_log_age = 30   # days

	[rda]
	endpoint = "https://rda.example.com"
	access_key = "..."
	secret_key = "..."

	[fetch]
	max_retries = 5
	workers = 8
	cache_entries = 128
	rate_limit = 50.0

	[storage]
	ref = "s3://bucket/prefix"
*/
package server
