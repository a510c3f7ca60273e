package spawner

const (
	cmdPreload = "preload"
	cmdSpawn   = "spawn"

	initArg = "forkserver_init"

	// ChildArg is argv[1] of a module process
	ChildArg = "forkserver_child"

	// PathEnv defines path environment variable for the helper and its children
	PathEnv = "PATH=/usr/local/bin:/usr/bin:/bin"

	// fd numbers in a module process
	payloadFd = 0
	filterFd  = 3

	helperMaxProc = 1
)

// PayloadFd and FilterFd are the fds a module process receives its request
// and seccomp filter on
const (
	PayloadFd = payloadFd
	FilterFd  = filterFd
)
