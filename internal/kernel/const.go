package kernel

// Constants from spec.md §6.
const (
	PriMin     = 0
	PriDefault = 31
	PriMax     = 63

	TimerFreq = 100
	TimeSlice = 4 // ticks

	TIDError = -1

	// ThreadMagic guards against kernel-stack overflow corrupting the
	// control block: every live Thread must carry this sentinel.
	ThreadMagic = 0xcd6abf4b

	// NiceMin and NiceMax bound thread_set_nice, per spec.md §3.
	NiceMin = -20
	NiceMax = 20

	// donationMaxDepth bounds the priority-donation holder-chain walk,
	// per spec.md §4.3/§9: a walk that would exceed this depth indicates
	// a lock-graph cycle, a bug, not a legitimate donation chain.
	donationMaxDepth = 8
)
