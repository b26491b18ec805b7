package downloader

import (
	"sync"

	"github.com/VoidObscura/sabrdaemon/internal/sabr"
	"github.com/VoidObscura/sabrdaemon/services/meta"
)

type Service struct {
	MetaServiceClient *meta.Service
	SabrClient        *sabr.Client
	LibraryMap        *sync.Map
	Jobs              *sync.Map // track id -> *Job
}

// DownloadRequest is the host player's instruction to fetch one track.
// PoToken and UstreamerConfig arrive base64 encoded (URL-safe without
// padding preferred, standard accepted).
type DownloadRequest struct {
	TrackID         string `json:"trackId"`
	StreamingURL    string `json:"streamingUrl"`
	Itag            int64  `json:"itag"`
	LastModified    int64  `json:"lmt"`
	DurationMs      int64  `json:"durationMs"`
	PoToken         string `json:"poToken"`
	UstreamerConfig string `json:"ustreamerConfig"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
}

// Job states, in the order a download moves through them.
const (
	JobQueued   = "QUEUED"
	JobFetching = "FETCHING"
	JobTagging  = "TAGGING"
	JobDone     = "DONE"
	JobFailed   = "FAILED"
)

type Job struct {
	mu sync.Mutex

	TrackID      string
	State        string
	BytesWritten int64
	SavedPath    string
	Err          error
}

func (j *Job) setState(state string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.State = state
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.State = JobFailed
	j.Err = err
}

// Snapshot returns a copy safe to serialize.
func (j *Job) Snapshot() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	status := JobStatus{
		TrackID:      j.TrackID,
		State:        j.State,
		BytesWritten: j.BytesWritten,
		SavedPath:    j.SavedPath,
	}
	if j.Err != nil {
		status.Error = j.Err.Error()
	}
	return status
}

type JobStatus struct {
	TrackID      string `json:"trackId"`
	State        string `json:"state"`
	BytesWritten int64  `json:"bytesWritten"`
	SavedPath    string `json:"savedPath,omitempty"`
	Error        string `json:"error,omitempty"`
}
