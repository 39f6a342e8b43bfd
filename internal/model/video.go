package model

import "time"

// VideoPost is a published video. It is owned by exactly one user.
//
// The three counters track the size of a relation stored elsewhere:
// CountLikes and CountCollections count membership rows, CountComments
// counts comment rows. They are only ever changed by delta updates.
type VideoPost struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"ownerId"`
	VideoRef         string    `json:"videoUrl"`
	CoverRef         string    `json:"coverImageUrl"`
	Description      string    `json:"description"`
	CountLikes       int64     `json:"countLikes"`
	CountCollections int64     `json:"countCollections"`
	CountComments    int64     `json:"countComments"`
	Comments         []Comment `json:"comments,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Comment is a single comment on a video post.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Counter names a counter column on a video post.
type Counter string

const (
	CounterLikes       Counter = "likes"
	CounterCollections Counter = "collections"
	CounterComments    Counter = "comments"
)
