package job

// AudioTrack is a transient descriptor produced by the prober. It is never
// persisted; only the winning track's index and language survive, attached
// to the Job record once the selector and mutator have run.
type AudioTrack struct {
	Index       int    // 0-based position among audio streams
	StreamIndex int    // absolute position in the container
	Codec       string
	Language    string // 3-letter code, normalized lowercase; "und" when unknown
	Title       string
	IsDefault   bool
	Channels    int
	Bitrate     int64
}
