package common

// Stream names one of the random streams of a run.  Every stream is seeded
// from the run seed through DeriveSeed, so the streams stay independent
// even when all collaborators are given the same run seed.
type Stream uint64

const (
	StreamPrior Stream = iota + 1
	StreamTrials
	StreamKernel
	StreamAncestors
)

func (s Stream) String() string {
	switch s {
	case StreamPrior:
		return "prior"
	case StreamTrials:
		return "trials"
	case StreamKernel:
		return "kernel"
	case StreamAncestors:
		return "ancestors"
	default:
		return "unknown"
	}
}

// DeriveSeed returns the seed of stream for population index under the run
// seed root.  Distinct (stream, index) pairs give unrelated seeds.
func DeriveSeed(root uint64, stream Stream, index uint64) uint64 {
	x := splitMix64(root)
	x = splitMix64(x ^ uint64(stream)*0xd1b54a32d192ed03)
	return splitMix64(x ^ index*0x8cb92ba72f3d8dd7)
}

// splitMix64 is the SplitMix64 finalizer (Steele, Lea and Flood 2014).
func splitMix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

//Personal.AI order the ending
