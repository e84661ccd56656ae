// Package counter wraps readers and writers to keep a running byte count,
// optionally announcing every new total to a callback.
package counter

// A CountCallback receives the running total after every read or write.
type CountCallback func(count int64)
