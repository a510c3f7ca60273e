/*
Package spawner runs a persistent helper process that starts module
processes on request.

The helper is the host executable started again with the argument
"forkserver_init". It receives a one-time preload command, then serves spawn
commands over a unix socket pair. Each module process is started as a child
of the host (CLONE_PARENT), so the host can wait for it directly, with:

	fd 0: sealed memfd holding the request payload
	fd 1: write end of the stdout pipe
	fd 2: write end of the stderr pipe
	fd 3: sealed memfd holding the seccomp filter, if preloaded

The helper hands the read ends of both pipes back to the host and closes its
own copies, so only the caller can read a child's output.

Init must be called at the start of main (or in a test init) so the helper
and module processes enter their own code paths:

	func init() {
		spawner.Init()
	}
*/
package spawner
