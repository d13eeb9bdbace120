package youtube

import "encoding/json"

type playlistItemsResponse struct {
	NextPageToken string            `json:"nextPageToken"`
	Items         []json.RawMessage `json:"items"`
}

type playlistItem struct {
	Snippet struct {
		Title                  string     `json:"title"`
		Description            string     `json:"description"`
		ChannelTitle           string     `json:"channelTitle"`
		VideoOwnerChannelTitle string     `json:"videoOwnerChannelTitle"`
		PublishedAt            string     `json:"publishedAt"`
		Thumbnails             thumbnails `json:"thumbnails"`
	} `json:"snippet"`
	ContentDetails struct {
		VideoID          string `json:"videoId"`
		VideoPublishedAt string `json:"videoPublishedAt"`
	} `json:"contentDetails"`
}

type videosResponse struct {
	Items []json.RawMessage `json:"items"`
}

type video struct {
	ID      string `json:"id"`
	Snippet struct {
		Title       string     `json:"title"`
		Description string     `json:"description"`
		Tags        []string   `json:"tags"`
		Thumbnails  thumbnails `json:"thumbnails"`
	} `json:"snippet"`
	Statistics struct {
		ViewCount    string `json:"viewCount"`
		LikeCount    string `json:"likeCount"`
		CommentCount string `json:"commentCount"`
	} `json:"statistics"`
	ContentDetails struct {
		Duration      string `json:"duration"`
		ContentRating struct {
			YTRating string `json:"ytRating"`
		} `json:"contentRating"`
	} `json:"contentDetails"`
}

type thumbnail struct {
	URL string `json:"url"`
}

type thumbnails struct {
	Default  *thumbnail `json:"default"`
	Medium   *thumbnail `json:"medium"`
	High     *thumbnail `json:"high"`
	Standard *thumbnail `json:"standard"`
	Maxres   *thumbnail `json:"maxres"`
}

// Best returns the highest resolution thumbnail URL.
func (t thumbnails) Best() string {
	for _, th := range []*thumbnail{t.Maxres, t.Standard, t.High, t.Medium, t.Default} {
		if th != nil && th.URL != "" {
			return th.URL
		}
	}
	return ""
}
