package audio

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/azmth/internal/model/speech"
)

const urlScheme = "blob:azmth/"

// ClipRegistry hands out local urls for finalized recordings, the way a
// browser creates object urls for blobs.
type ClipRegistry struct {
	mu    sync.RWMutex
	clips map[string]speech.Clip
}

// NewClipRegistry creates an empty registry.
func NewClipRegistry() *ClipRegistry {
	return &ClipRegistry{clips: make(map[string]speech.Clip)}
}

// Register stores data under a fresh url.
func (r *ClipRegistry) Register(data []byte, mimeType string) speech.Clip {
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	id := uuid.NewString()
	clip := speech.Clip{
		ID:        id,
		URL:       urlScheme + id,
		MimeType:  mimeType,
		Data:      append([]byte(nil), data...),
		CreatedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.clips[clip.URL] = clip
	r.mu.Unlock()
	return clip
}

// Resolve looks up a clip by url.
func (r *ClipRegistry) Resolve(url string) (speech.Clip, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clip, ok := r.clips[url]
	return clip, ok
}

// Revoke releases the clip behind url. Unknown urls are ignored.
func (r *ClipRegistry) Revoke(url string) {
	r.mu.Lock()
	delete(r.clips, url)
	r.mu.Unlock()
}

// Len returns the number of live clips.
func (r *ClipRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clips)
}
