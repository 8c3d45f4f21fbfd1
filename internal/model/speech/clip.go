package speech

import "time"

// Clip is a finalized, playable recording addressed by a local object url.
type Clip struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	MimeType  string    `json:"mimeType"`
	Data      []byte    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// Empty reports whether the clip carries no audio.
func (c *Clip) Empty() bool {
	return c == nil || len(c.Data) == 0
}

// Filename 返回上传时使用的文件名。
func (c *Clip) Filename() string {
	switch c.MimeType {
	case "audio/webm":
		return "recording.webm"
	case "audio/mpeg":
		return "recording.mp3"
	default:
		return "recording.wav"
	}
}
