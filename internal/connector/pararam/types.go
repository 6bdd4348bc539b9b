package pararam

import "time"

type userResponse struct {
	User *struct {
		ID         int64  `json:"id"`
		UniqueName string `json:"unique_name"`
	} `json:"user"`
}

type postsRequest struct {
	UserID   int64  `json:"user_id"`
	DateFrom string `json:"date_from"`
	DateTo   string `json:"date_to"`
}

type postsResponse struct {
	Posts []post `json:"posts"`
}

type post struct {
	ChatID      int64     `json:"chat_id"`
	ChatTitle   string    `json:"chat_title"`
	PostNo      int64     `json:"post_no"`
	ReplyNo     *int64    `json:"reply_no"`
	TimeCreated time.Time `json:"time_created"`
}
