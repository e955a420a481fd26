package twitter

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	assert_ "github.com/stretchr/testify/assert"

	twitter_video_dl "github.com/lanesky/twitter-video-dl"
)

func TestMatchExtractsTweetID(t *testing.T) {
	assert := assert_.New(t)

	for input, want := range map[string]string{
		"https://x.com/someone/status/1234567890":    "1234567890",
		"https://twitter.com/someone/status/42?s=20": "42",
		"https://x.com/i/status/987":                 "987",
	} {
		s, err := Match(input)
		assert.NoError(err, input)
		assert.Equal(fmt.Sprintf("https://x.com/i/status/%s", want), s.URL(), input)
	}
}

func TestMatchRejectsOtherURLs(t *testing.T) {
	assert := assert_.New(t)

	for _, input := range []string{
		"https://example.com/video/123",
		"https://x.com/someone",
		"https://x.com/someone/status/not-a-number",
		"not a url at all",
	} {
		_, err := Match(input)
		assert.ErrorIs(err, ErrBadTweetURL, input)
	}
}

func TestDefaultRegistryHasTwitterProvider(t *testing.T) {
	assert := assert_.New(t)

	m, err := twitter_video_dl.DefaultProviderRegistry.Match("https://x.com/someone/status/555")
	assert.NoError(err)
	assert.Equal("twitter", m.ProviderName)
}

func TestReconNoVideo(t *testing.T) {
	assert := assert_.New(t)

	upstream := newStubUpstream(t)
	upstream.serveMainJS(stubMainJS)
	upstream.serveActivate(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"guest_token": "g1"}`)
	})
	upstream.serveDetail(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"tweetResult": {"result": {"legacy": {"entities": {"media": [
			{"video_info": {"variants": [
				{"bitrate": 1, "url": "U3", "content_type": "application/x-mpegURL"}
			]}}
		]}}}}}}`)
	})

	src, err := MatchWithClient("https://x.com/u/status/77", upstream.client())
	assert.NoError(err)
	_, err = src.Recon(context.Background())
	assert.ErrorIs(err, ErrNoVideo)
}

func TestDownloadEndToEnd(t *testing.T) {
	assert := assert_.New(t)

	high := bytes.Repeat([]byte{0x11}, 3000)
	low := []byte("low bitrate bytes")

	upstream := newStubUpstream(t)
	upstream.serveMainJS(stubMainJS)
	upstream.serveActivate(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"guest_token": "g1"}`)
	})
	upstream.serveDetail(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data": {"tweetResult": {"result": {"legacy": {"entities": {"media": [
			{"video_info": {"variants": [
				{"bitrate": 832000, "content_type": "video/mp4", "url": %q},
				{"bitrate": 320000, "content_type": "video/mp4", "url": %q},
				{"bitrate": 1, "content_type": "application/x-mpegURL", "url": "https://invalid.example/playlist.m3u8"}
			]}}
		]}}}}}}`, upstream.server.URL+"/video/high.mp4", upstream.server.URL+"/video/low.mp4")
	})
	upstream.mux.HandleFunc("/video/high.mp4", func(w http.ResponseWriter, r *http.Request) {
		// Declare the length explicitly: the body exceeds net/http's pre-chunking buffer, so without
		// this header the stub would respond chunked and the client would see an unknown size.
		w.Header().Set("Content-Length", fmt.Sprint(len(high)))
		_, _ = w.Write(high)
	})
	upstream.mux.HandleFunc("/video/low.mp4", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(low)
	})

	src, err := MatchWithClient("https://x.com/someone/status/1234", upstream.client())
	assert.NoError(err)

	resolved, err := src.Recon(context.Background())
	assert.NoError(err)
	assert.Equal("1234", resolved.Info().ID())

	dir := t.TempDir()
	var percents []int
	builder := twitter_video_dl.NewDownloadBuilder()
	builder.WithTargetPrefix(dir + "/")
	builder.WithPercentCallback(func(p int) { percents = append(percents, p) })
	d, err := builder.Build()
	assert.NoError(err)
	defer d.Close()

	assert.NoError(resolved.Download(d))

	gotHigh, err := os.ReadFile(filepath.Join(dir, "tweet_1234_832000.mp4"))
	assert.NoError(err)
	assert.Equal(high, gotHigh)

	gotLow, err := os.ReadFile(filepath.Join(dir, "tweet_1234_320000.mp4"))
	assert.NoError(err)
	assert.Equal(low, gotLow)

	// Only the two mp4 renditions are downloaded.
	entries, err := os.ReadDir(dir)
	assert.NoError(err)
	assert.Len(entries, 2)

	downloaded, expected := d.Progress()
	assert.Equal(len(high)+len(low), downloaded)
	assert.Equal(len(high)+len(low), expected)
	assert.NotEmpty(percents)
	assert.Equal(100, percents[len(percents)-1])
}

func TestDownloadAbortsOnVariantFailure(t *testing.T) {
	assert := assert_.New(t)

	upstream := newStubUpstream(t)
	upstream.serveMainJS(stubMainJS)
	upstream.serveActivate(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"guest_token": "g1"}`)
	})
	upstream.serveDetail(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data": {"tweetResult": {"result": {"legacy": {"entities": {"media": [
			{"video_info": {"variants": [
				{"bitrate": 832000, "content_type": "video/mp4", "url": %q},
				{"bitrate": 320000, "content_type": "video/mp4", "url": %q}
			]}}
		]}}}}}}`, upstream.server.URL+"/video/missing.mp4", upstream.server.URL+"/video/low.mp4")
	})
	upstream.mux.HandleFunc("/video/missing.mp4", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	lowRequested := false
	upstream.mux.HandleFunc("/video/low.mp4", func(w http.ResponseWriter, r *http.Request) {
		lowRequested = true
		_, _ = w.Write([]byte("low"))
	})

	src, err := MatchWithClient("https://x.com/someone/status/55", upstream.client())
	assert.NoError(err)
	resolved, err := src.Recon(context.Background())
	assert.NoError(err)

	dir := t.TempDir()
	builder := twitter_video_dl.NewDownloadBuilder()
	builder.WithTargetPrefix(dir + "/")
	d, err := builder.Build()
	assert.NoError(err)
	defer d.Close()

	err = resolved.Download(d)
	assert.ErrorIs(err, twitter_video_dl.ErrDownloadFailed)
	// The first variant failed, so the second is never attempted and nothing is left on disk.
	assert.False(lowRequested)
	entries, err := os.ReadDir(dir)
	assert.NoError(err)
	assert.Empty(entries)
}
