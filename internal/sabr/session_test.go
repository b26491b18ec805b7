package sabr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/VoidObscura/sabrdaemon/internal/sabr/protos"
	"github.com/VoidObscura/sabrdaemon/internal/sabr/ump"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// responseBuilder assembles a UMP response body part by part.
type responseBuilder struct {
	t   *testing.T
	buf []byte
}

func (rb *responseBuilder) part(partType int64, payload []byte) *responseBuilder {
	rb.t.Helper()
	buf, err := ump.AppendVarint(rb.buf, partType)
	require.NoError(rb.t, err)
	buf, err = ump.AppendVarint(buf, int64(len(payload)))
	require.NoError(rb.t, err)
	rb.buf = append(buf, payload...)
	return rb
}

func (rb *responseBuilder) formatInit(itag int64, mimeType string, totalSegments int64) *responseBuilder {
	formatID := &protos.Writer{}
	formatID.Varint(1, itag)
	var w protos.Writer
	w.Message(2, formatID)
	if totalSegments > 0 {
		w.Varint(4, totalSegments)
	}
	w.String(5, mimeType)
	return rb.part(partFormatInitialization, w.Finish())
}

func (rb *responseBuilder) segment(headerID, itag, seq, startMs, durationMs int64, data []byte) *responseBuilder {
	var header protos.Writer
	header.Varint(1, headerID)
	header.Varint(9, seq)
	header.Varint(11, startMs)
	header.Varint(12, durationMs)
	formatID := &protos.Writer{}
	formatID.Varint(1, itag)
	header.Message(13, formatID)
	rb.part(partMediaHeader, header.Finish())

	media, err := ump.AppendVarint(nil, headerID)
	require.NoError(rb.t, err)
	rb.part(partMedia, append(media, data...))

	end, err := ump.AppendVarint(nil, headerID)
	require.NoError(rb.t, err)
	return rb.part(partMediaEnd, end)
}

func fetchFixture(t *testing.T, handler http.HandlerFunc) (*Client, string, string) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(server.Client(), ClientConfig{})
	outputPath := filepath.Join(t.TempDir(), "track.webm")
	return client, outputPath, server.URL + "/videoplayback"
}

func TestFetchHappyPathKnownTotal(t *testing.T) {
	var requestCount atomic.Int64
	segments := []string{"AAAA", "BBBB", "CCCC"}

	handler := func(w http.ResponseWriter, r *http.Request) {
		rn := requestCount.Add(1)
		assert.Equal(t, "application/x-protobuf", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/vnd.yt-ump", r.Header.Get("Accept"))
		assert.Equal(t, strconv.FormatInt(rn, 10), r.URL.Query().Get("rn"))

		rb := &responseBuilder{t: t}
		if rn == 1 {
			rb.formatInit(251, "audio/webm", 3)
			rb.formatInit(137, "video/mp4", 0)
		}
		if rn <= 3 {
			seq := rn
			rb.segment(1, 251, seq, (seq-1)*1000, 1000, []byte(segments[seq-1]))
		} else {
			// the client should have stopped by now
			rb.part(partLiveMetadata, nil)
		}
		w.Write(rb.buf)
	}

	client, outputPath, serverURL := fetchFixture(t, handler)
	result, err := client.Fetch(context.Background(), FetchRequest{
		StreamingURL: serverURL,
		Itag:         251,
		OutputPath:   outputPath,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), result.BytesWritten)
	assert.LessOrEqual(t, requestCount.Load(), int64(4))

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "AAAABBBBCCCC", string(data))
}

func TestFetchEmptyStreamNoAudioFormat(t *testing.T) {
	var requestCount atomic.Int64
	handler := func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		rb := &responseBuilder{t: t}
		rb.formatInit(137, "video/mp4", 0)
		w.Write(rb.buf)
	}
	client, outputPath, serverURL := fetchFixture(t, handler)

	_, err := client.Fetch(context.Background(), FetchRequest{
		StreamingURL: serverURL,
		Itag:         251,
		OutputPath:   outputPath,
	})
	var emptyErr *EmptyStreamError
	require.ErrorAs(t, err, &emptyErr)
	assert.Equal(t, int64(maxStalledRequests), requestCount.Load())
	assert.NoFileExists(t, outputPath)
}

func TestFetchFollowsRedirect(t *testing.T) {
	var redirectedCount atomic.Int64
	var redirectedRNs []string

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rn := redirectedCount.Add(1)
		redirectedRNs = append(redirectedRNs, r.URL.Query().Get("rn"))
		rb := &responseBuilder{t: t}
		if rn == 1 {
			rb.formatInit(251, "audio/webm", 1)
		}
		rb.segment(1, 251, rn, (rn-1)*1000, 1000, []byte("DATA"))
		w.Write(rb.buf)
	}))
	defer target.Close()

	handler := func(w http.ResponseWriter, r *http.Request) {
		var redirect protos.Writer
		redirect.String(1, target.URL+"/videoplayback")
		rb := &responseBuilder{t: t}
		rb.part(partSabrRedirect, redirect.Finish())
		w.Write(rb.buf)
	}
	client, outputPath, serverURL := fetchFixture(t, handler)

	result, err := client.Fetch(context.Background(), FetchRequest{
		StreamingURL: serverURL,
		Itag:         251,
		OutputPath:   outputPath,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.BytesWritten)
	// request numbering carries on across the redirect
	require.NotEmpty(t, redirectedRNs)
	assert.Equal(t, "2", redirectedRNs[0])
}

func TestFetchAttestationRequired(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		var status protos.Writer
		status.Varint(1, protectionStatusRequired)
		rb := &responseBuilder{t: t}
		rb.part(partStreamProtectionStatus, status.Finish())
		w.Write(rb.buf)
	}
	client, outputPath, serverURL := fetchFixture(t, handler)

	_, err := client.Fetch(context.Background(), FetchRequest{
		StreamingURL: serverURL,
		Itag:         251,
		OutputPath:   outputPath,
	})
	var attestation *AttestationRequiredError
	require.ErrorAs(t, err, &attestation)
	assert.True(t, IsFatalForToken(err))
	assert.NoFileExists(t, outputPath)
}

func TestFetchServerError(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		detail := &protos.Writer{}
		detail.Varint(1, 403)
		var sabrError protos.Writer
		sabrError.String(1, "EXPIRED")
		sabrError.Varint(2, 1)
		sabrError.Message(3, detail)
		rb := &responseBuilder{t: t}
		rb.part(partSabrError, sabrError.Finish())
		w.Write(rb.buf)
	}
	client, outputPath, serverURL := fetchFixture(t, handler)

	_, err := client.Fetch(context.Background(), FetchRequest{
		StreamingURL: serverURL,
		Itag:         251,
		OutputPath:   outputPath,
	})
	var sabrErr *SabrError
	require.ErrorAs(t, err, &sabrErr)
	assert.Equal(t, "EXPIRED", sabrErr.Type)
	assert.NoFileExists(t, outputPath)
}

func TestFetchNon2xxStatus(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone fishing", http.StatusForbidden)
	}
	client, outputPath, serverURL := fetchFixture(t, handler)

	_, err := client.Fetch(context.Background(), FetchRequest{
		StreamingURL: serverURL,
		Itag:         251,
		OutputPath:   outputPath,
	})
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusForbidden, transportErr.Status)
	assert.Contains(t, transportErr.Body, "gone fishing")
	assert.NoFileExists(t, outputPath)
}

func TestFetchEmptyBody(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
	client, outputPath, serverURL := fetchFixture(t, handler)

	_, err := client.Fetch(context.Background(), FetchRequest{
		StreamingURL: serverURL,
		Itag:         251,
		OutputPath:   outputPath,
	})
	var protocolErr *ProtocolError
	require.ErrorAs(t, err, &protocolErr)
	assert.NoFileExists(t, outputPath)
}

func TestPlayerTimeAdvancesMonotonically(t *testing.T) {
	s := newTestSession()
	s.audioFormatKey = "251"
	s.initializedFormats["251"] = &initializedFormat{
		FormatID: FormatID{Itag: 251},
		ConsumedRanges: []ConsumedRange{
			{StartSequenceNumber: 1, EndSequenceNumber: 2, StartTimeMs: 0, DurationMs: 2000},
		},
	}

	s.advancePlayerTime()
	assert.Equal(t, int64(2000), s.playerTimeMs)

	// no range covers 2000 yet, the playhead stays at the furthest end
	s.advancePlayerTime()
	assert.Equal(t, int64(2000), s.playerTimeMs)

	s.initializedFormats["251"].ConsumedRanges = append(s.initializedFormats["251"].ConsumedRanges,
		ConsumedRange{StartSequenceNumber: 3, EndSequenceNumber: 3, StartTimeMs: 2000, DurationMs: 1000})
	s.advancePlayerTime()
	assert.Equal(t, int64(3000), s.playerTimeMs)
}

func TestStreamCompleteByEndTime(t *testing.T) {
	s := newTestSession()
	s.audioFormatKey = "251"
	s.initializedFormats["251"] = &initializedFormat{
		FormatID:  FormatID{Itag: 251},
		EndTimeMs: 3000,
		ConsumedRanges: []ConsumedRange{
			{StartSequenceNumber: 1, EndSequenceNumber: 3, StartTimeMs: 0, DurationMs: 3000},
		},
	}
	s.playerTimeMs = 3000
	s.checkStreamComplete()
	assert.True(t, s.streamComplete)
}

func TestStreamCompleteIgnoresSentinelRanges(t *testing.T) {
	s := newTestSession()
	s.audioFormatKey = "251"
	s.initializedFormats["251"] = &initializedFormat{
		FormatID:      FormatID{Itag: 251},
		TotalSegments: 3,
		ConsumedRanges: []ConsumedRange{
			{StartSequenceNumber: 0, EndSequenceNumber: sentinelEndSequence, DurationMs: sentinelDurationMs},
		},
	}
	s.checkStreamComplete()
	assert.False(t, s.streamComplete)
}
