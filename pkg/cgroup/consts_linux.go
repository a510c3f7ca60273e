package cgroup

const (
	// systemd mounted cgroups
	basePath = "/sys/fs/cgroup"

	cgroupSubtreeControl = "cgroup.subtree_control"
	cgroupControllers    = "cgroup.controllers"

	filePerm = 0644
	dirPerm  = 0755

	Memory = "memory"
	Pids   = "pids"
)
