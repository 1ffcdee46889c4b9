/*
Package storage moves saved patch sets and exported rasters between local disk and
object storage buckets (Google Cloud Storage, S3 and S3-compatible endpoints, local
directories, and memory for tests).
*/
package storage
