package model

// [MESSAGE] CORE ENTITY REPRESENTING A FORUM POST, OWNED BY THE CRUD LAYER
type Message struct {
	ID        string `json:"id"`
	ForumID   string `json:"forumId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Edited    bool   `json:"edited"`
}
