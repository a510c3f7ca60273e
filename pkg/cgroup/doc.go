// Package cgroup manages per-process cgroup v2 groups under a delegated
// parent directory.
//
// Used controllers:
//
//	memory
//	pids
//
// cgroup v1 is not supported.
package cgroup
