// Package eventlog defines the append-only, multi-stream event log that
// projections read from, with an in-memory implementation and a PostgreSQL
// implementation on a prowl.Backend.
//
// Every stream is an ordered sequence of events numbered from 1. Streams are
// grouped into categories by the prefix before the first "-", so "user-123"
// belongs to the "user" category. Streams whose name starts with "$" are
// internal and excluded from "all streams" listings.
package eventlog
