package sabr

import (
	"sort"

	"github.com/VoidObscura/sabrdaemon/internal/sabr/protos"
)

// Top-level request fields.
const (
	fieldClientAbrState    = 1
	fieldInitializedFormat = 2
	fieldBufferedRange     = 3
	fieldUstreamerConfig   = 5
	fieldPreferredFormat   = 16
	fieldStreamerContext   = 19
)

// buildRequestBody serializes the session's current view of the stream
// into the protobuf body the server expects.
func (s *session) buildRequestBody() []byte {
	var root protos.Writer

	abrState := &protos.Writer{}
	abrState.Varint(28, s.playerTimeMs)
	abrState.Varint(40, 1)
	abrState.Varint(46, 1)
	abrState.Varint(76, 1)
	root.Message(fieldClientAbrState, abrState)

	for _, key := range s.sortedFormatKeys() {
		format := s.initializedFormats[key]
		root.Message(fieldInitializedFormat, writeFormatID(format.FormatID))
		for _, cr := range format.ConsumedRanges {
			root.Message(fieldBufferedRange, writeBufferedRange(format.FormatID, cr))
		}
	}

	if len(s.ustreamerConfig) > 0 {
		root.Bytes(fieldUstreamerConfig, s.ustreamerConfig)
	}

	root.Message(fieldPreferredFormat, writeFormatID(FormatID{Itag: s.preferredItag, Lmt: s.preferredLmt}))
	root.Message(fieldStreamerContext, s.writeStreamerContext())
	return root.Finish()
}

func (s *session) sortedFormatKeys() []string {
	keys := make([]string, 0, len(s.initializedFormats))
	for key := range s.initializedFormats {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func writeFormatID(id FormatID) *protos.Writer {
	w := &protos.Writer{}
	w.Varint(1, id.Itag)
	if id.Lmt > 0 {
		w.Varint(2, id.Lmt)
	}
	if id.Xtags != "" {
		w.String(3, id.Xtags)
	}
	return w
}

func writeBufferedRange(id FormatID, cr ConsumedRange) *protos.Writer {
	w := &protos.Writer{}
	w.Message(1, writeFormatID(id))
	w.Varint(2, cr.StartTimeMs)
	w.Varint(3, cr.DurationMs)
	w.Varint(4, cr.StartSequenceNumber)
	w.Varint(5, cr.EndSequenceNumber)
	timeRange := &protos.Writer{}
	timeRange.Varint(1, cr.StartTimeMs)
	timeRange.Varint(2, cr.DurationMs)
	timeRange.Varint(3, 1000) // timescale, ticks per second
	w.Message(6, timeRange)
	return w
}

func (s *session) writeStreamerContext() *protos.Writer {
	w := &protos.Writer{}
	w.Message(1, s.client.writeClientInfo())
	if len(s.poToken) > 0 {
		w.Bytes(2, s.poToken)
	}
	if len(s.playbackCookie) > 0 {
		w.Bytes(3, s.playbackCookie)
	}
	for _, contextType := range s.sortedContextTypes() {
		if update, ok := s.sabrContextUpdates[contextType]; ok {
			sc := &protos.Writer{}
			sc.Varint(1, update.Type)
			sc.Bytes(2, update.Value)
			w.Message(5, sc)
		} else {
			// In the send set without a stored value: declared as an
			// unsent type until the server re-supplies it.
			w.Varint(6, contextType)
		}
	}
	return w
}

func (s *session) sortedContextTypes() []int64 {
	types := make([]int64, 0, len(s.sabrContextsToSend))
	for t := range s.sabrContextsToSend {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (c *Client) writeClientInfo() *protos.Writer {
	w := &protos.Writer{}
	if c.cfg.HL != "" {
		w.String(1, c.cfg.HL)
	}
	if c.cfg.GL != "" {
		w.String(2, c.cfg.GL)
	}
	if c.cfg.VisitorData != "" {
		w.String(14, c.cfg.VisitorData)
	}
	if c.cfg.UserAgent != "" {
		w.String(15, c.cfg.UserAgent)
	}
	w.Varint(16, c.cfg.ClientName)
	if c.cfg.ClientVersion != "" {
		w.String(17, c.cfg.ClientVersion)
	}
	return w
}
