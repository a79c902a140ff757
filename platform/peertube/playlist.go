package peertube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	httpclient "coursesync/http"
)

// playlistPageSize is the largest page PeerTube serves for playlist lists.
const playlistPageSize = 100

type playlistPage struct {
	Total int `json:"total"`
	Data  []struct {
		ID          int    `json:"id"`
		DisplayName string `json:"displayName"`
	} `json:"data"`
}

// FindPlaylist searches every page of the account's playlists for an exact
// display name match.
func (u *Uploader) FindPlaylist(ctx context.Context, title string) (string, error) {
	base := u.api + "/api/v1/accounts/" + url.PathEscape(u.cfg.Username) + "/video-playlists"
	for start := 0; ; {
		q := url.Values{"start": {strconv.Itoa(start)}, "count": {strconv.Itoa(playlistPageSize)}}
		var page playlistPage
		if err := u.getJSON(ctx, base+"?"+q.Encode(), &page); err != nil {
			return "", u.fail("find playlist", err)
		}
		for _, p := range page.Data {
			if p.DisplayName == title {
				return strconv.Itoa(p.ID), nil
			}
		}
		start += len(page.Data)
		if len(page.Data) == 0 || start >= page.Total {
			return "", nil
		}
	}
}

// CreatePlaylist creates a playlist on the upload channel with the
// configured privacy.
func (u *Uploader) CreatePlaylist(ctx context.Context, title, description string) (string, error) {
	channelID, err := u.channel(ctx)
	if err != nil {
		return "", u.fail("create playlist", err)
	}
	body := newMultipart([]field{
		{"displayName", title},
		{"description", description},
		{"privacy", strconv.Itoa(u.cfg.Privacy)},
		{"videoChannelId", strconv.Itoa(channelID)},
	}, nil, nil)

	resp, err := u.do(ctx, func(h http.Header) *httpclient.Request {
		h.Set("Content-Type", body.ContentType())
		return &httpclient.Request{
			Method: http.MethodPost,
			URL:    u.api + "/api/v1/video-playlists",
			Header: h,
			Body:   body.Open,
		}
	})
	if err != nil {
		return "", u.fail("create playlist", err)
	}

	var out struct {
		VideoPlaylist struct {
			ID int `json:"id"`
		} `json:"videoPlaylist"`
	}
	if err := resp.JSON(&out); err != nil {
		return "", u.fail("create playlist", err)
	}
	if out.VideoPlaylist.ID == 0 {
		return "", u.fail("create playlist", errors.New("response without playlist id"))
	}
	u.logger.Info("peertube playlist created", "title", title, "id", out.VideoPlaylist.ID)
	return strconv.Itoa(out.VideoPlaylist.ID), nil
}

// AddToPlaylist appends a video to a playlist.
func (u *Uploader) AddToPlaylist(ctx context.Context, playlistID, videoID string) error {
	id, err := strconv.Atoi(videoID)
	if err != nil {
		return u.fail("add to playlist", fmt.Errorf("video id %q is not numeric", videoID))
	}
	payload, err := json.Marshal(struct {
		VideoID int `json:"videoId"`
	}{id})
	if err != nil {
		return u.fail("add to playlist", err)
	}
	_, err = u.do(ctx, func(h http.Header) *httpclient.Request {
		h.Set("Content-Type", "application/json")
		return &httpclient.Request{
			Method: http.MethodPost,
			URL:    u.api + "/api/v1/video-playlists/" + url.PathEscape(playlistID) + "/videos",
			Header: h,
			Body:   func() (io.Reader, error) { return bytes.NewReader(payload), nil },
		}
	})
	if err != nil {
		return u.fail("add to playlist", err)
	}
	return nil
}
