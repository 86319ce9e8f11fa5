// Package search exposes read-only content and filename search as
// capabilities.
//
// Capabilities:
//   - grep_search: regex content search with an optional file glob filter
//   - glob_find: filename pattern walk, including ** recursion
//
// Both skip hidden directories and the usual dependency trees (node_modules,
// vendor) and cap their result counts.
package search
