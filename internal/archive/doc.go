// Package archive implements an optional notification sink that batches
// inbound notification records into PostgreSQL. The realtime manager itself
// stays storage-free; this is one pluggable sink implementation.
package archive
