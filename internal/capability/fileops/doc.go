// Package fileops exposes file reading and writing as capabilities.
//
// Capabilities:
//   - read_file: read file contents, optionally a line range
//   - write_file: write content to a file, creating parent directories
//   - list_files: list a directory, optionally recursively
//
// Relative paths resolve against the invocation's working directory. Writes
// that land outside the working directory escalate their permission request
// to system-wide scope, so project-scoped policies refuse them.
package fileops
