// Package sabr implements a client for the server adaptive bitrate
// streaming protocol used by googlevideo hosts: it POSTs protobuf
// request bodies, parses UMP-framed responses and reassembles the audio
// format's segments into a single output file.
package sabr

import "math"

// UMP part types the client understands. Anything else is skipped.
const (
	partMediaHeader              = 20
	partMedia                    = 21
	partMediaEnd                 = 22
	partLiveMetadata             = 31
	partNextRequestPolicy        = 35
	partFormatInitialization     = 42
	partSabrRedirect             = 43
	partSabrError                = 44
	partSabrContextUpdate        = 57
	partStreamProtectionStatus   = 58
	partSabrContextSendingPolicy = 59
)

const (
	maxRequests        = 300
	maxStalledRequests = 5

	// Sentinel consumed range seeded for discarded formats so the
	// server stops re-sending their data.
	sentinelEndSequence = int64(math.MaxInt32)
	sentinelDurationMs  = int64(math.MaxInt64 / 2)
)

// FormatID identifies one media representation.
type FormatID struct {
	Itag  int64
	Lmt   int64 // 0 means absent
	Xtags string
}

// ConsumedRange is a contiguous run of segments already received for
// one format. Sequence numbers are inclusive on both ends.
type ConsumedRange struct {
	StartSequenceNumber int64
	EndSequenceNumber   int64
	StartTimeMs         int64
	DurationMs          int64
}

// initializedFormat is the server's initialization descriptor for one
// format, keyed in the session by the stringified itag.
type initializedFormat struct {
	FormatID
	Discard             bool
	EndTimeMs           int64
	TotalSegments       int64
	MimeType            string
	InitSegmentReceived bool
	ConsumedRanges      []ConsumedRange
}

// partialSegment tracks one in-flight segment between its MEDIA_HEADER
// and MEDIA_END parts. Entries live for a single request only.
type partialSegment struct {
	FormatKey      string
	IsInitSegment  bool
	SequenceNumber int64
	StartMs        int64
	DurationMs     int64
	Discard        bool
	ReceivedBytes  int64
}

// sabrContext is a server-pushed opaque blob the client echoes back on
// subsequent requests until told otherwise.
type sabrContext struct {
	Type          int64
	Value         []byte
	SendByDefault bool
	WritePolicy   int64 // 0 overwrite, 2 keep-first
}
