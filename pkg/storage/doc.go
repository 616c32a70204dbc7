// Copyright © 2019 One Concern

// Package storage provides an interface to handle backend storage objects.
//
// The filter uses it for the archived binary originals. This package
// supports the following backends:
//   - local file system (under the repository's git directory)
//   - in-memory (tests)
package storage
