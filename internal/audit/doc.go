// Package audit provides the asynchronous audit event pipeline backing
// the root package's audit API.
package audit
