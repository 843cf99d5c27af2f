// Package internal holds helpers shared by authcore packages that are not
// part of the public API surface.
package internal
