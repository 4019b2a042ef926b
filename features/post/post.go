package post

import "time"

type Post struct {
	WPPostID    int64     `json:"wp_post_id"`
	Slug        string    `json:"slug"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	ModifiedGMT string    `json:"modified_gmt"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Page struct {
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
	Total   int    `json:"total"`
	Items   []Post `json:"items"`
}
