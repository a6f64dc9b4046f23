// Package audio is the playback gateway for termsfx.
// It decodes WAV, OGG and MP3 files with the beep library, caches the decoded
// buffers, and plays them through a single shared speaker. Requests are
// queued and rendered off the caller's goroutine.
package audio
