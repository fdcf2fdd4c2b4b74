// Package nutrition normalizes free-text vision model replies into
// canonical nutrition records.
//
// A Pipeline tries three strategies in a fixed order: an embedded JSON
// object, pipe-delimited record lines, and finally regex mining of prose.
// Everything here is a pure function of its input and a read-only Policy.
package nutrition
