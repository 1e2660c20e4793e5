package domain

import "strings"

const (
	cpuKeySuffix    = "-cpu-metrics"
	memoryKeySuffix = "-memory-metrics"

	DefaultLogQueue = "apps-logs"
)

func CPUKey(host string) string {
	return host + cpuKeySuffix
}

func MemoryKey(host string) string {
	return host + memoryKeySuffix
}

// CPUKeyPattern matches the cpu metric key of every publishing host.
func CPUKeyPattern() string {
	return "*" + cpuKeySuffix
}

// HostFromCPUKey extracts the host from a "<host>-cpu-metrics" key.
func HostFromCPUKey(key string) (string, bool) {
	host, ok := strings.CutSuffix(key, cpuKeySuffix)
	if !ok || host == "" {
		return "", false
	}
	return host, true
}
