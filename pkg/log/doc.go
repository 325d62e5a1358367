/*
Package log provides structured logging for vigil using zerolog.

It wraps zerolog with component-scoped child loggers (WithComponent,
WithOrigin, WithPeer, WithDumpID) so ingest, replication, and persistence
code can tag log lines without threading a logger through every call.
Init must run once at process startup before any other package logs.
*/
package log
