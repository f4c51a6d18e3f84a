package dispatcher

import "runtime"

// CPUSampler reports instantaneous CPU utilization as a percentage in
// [0, 100]. It is an interface so a real OS-level sampler can be plugged
// in without touching the controller.
type CPUSampler interface {
	Percent() float64
}

// runtimeCPUSampler approximates utilization from goroutine scheduling
// pressure (runnable goroutines per GOMAXPROCS). No repo in the retrieved
// corpus imports an OS-level CPU sampling library (e.g. gopsutil); this is
// a genuine gap the standard library covers only approximately via
// runtime.NumGoroutine, so it stays on the standard library rather than
// inventing an unretrieved dependency. Swap in a real sampler by
// implementing CPUSampler.
type runtimeCPUSampler struct{}

func (runtimeCPUSampler) Percent() float64 {
	procs := float64(runtime.GOMAXPROCS(0))
	goroutines := float64(runtime.NumGoroutine())
	pct := (goroutines / (procs * 4)) * 100
	return clamp(pct, 0, 100)
}
