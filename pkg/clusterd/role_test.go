package clusterd

import (
	"os"
	"strconv"
	"testing"
)

func TestIsWorkerUnset(t *testing.T) {
	old, had := os.LookupEnv(MasterPIDEnv)
	os.Unsetenv(MasterPIDEnv)
	defer func() {
		if had {
			os.Setenv(MasterPIDEnv, old)
		}
	}()

	if IsWorker() {
		t.Error("expected IsWorker to be false when CLUSTER_MASTER_PID is unset")
	}
}

func TestIsWorkerSet(t *testing.T) {
	t.Setenv(MasterPIDEnv, "12345")

	if !IsWorker() {
		t.Error("expected IsWorker to be true when CLUSTER_MASTER_PID is set")
	}
}

func TestMarkAsMaster(t *testing.T) {
	base := []string{"PATH=/bin", "HOME=/root"}
	marked := MarkAsMaster(base)

	if len(marked) != len(base)+1 {
		t.Fatalf("expected %d entries, got %d", len(base)+1, len(marked))
	}

	want := MasterPIDEnv + "=" + strconv.Itoa(os.Getpid())
	if marked[len(marked)-1] != want {
		t.Errorf("expected last entry %q, got %q", want, marked[len(marked)-1])
	}

	// Original slice is untouched.
	if len(base) != 2 {
		t.Error("MarkAsMaster must not mutate its input slice length")
	}
}
