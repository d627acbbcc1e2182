package clusterd

import (
	"os"
	"strconv"
)

// MasterPIDEnv is the environment variable a master sets on every forked
// worker's environment. Its presence in the current process's environment is
// the only signal used to distinguish a worker from the master.
const MasterPIDEnv = "CLUSTER_MASTER_PID"

// IsWorker reports whether the current process was forked by a clusterd
// master.
func IsWorker() bool {
	_, ok := os.LookupEnv(MasterPIDEnv)
	return ok
}

// MarkAsMaster stamps the current process's own pid into the environment
// overlay a child process will receive, so that the child identifies itself
// as a worker on startup.
func MarkAsMaster(env []string) []string {
	return append(env, MasterPIDEnv+"="+strconv.Itoa(os.Getpid()))
}
